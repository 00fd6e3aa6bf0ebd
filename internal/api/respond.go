package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nice-bills/chain-segment/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorResponse{Error: kind, Detail: detail})
}

// writeDomainError maps a pipeline error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindInvalidAddress:
		status = http.StatusBadRequest
	case domain.KindJobNotFound:
		status = http.StatusNotFound
	case domain.KindModelArtifactMismatch, domain.KindNormalizationError:
		status = http.StatusUnprocessableEntity
	case domain.KindUpstreamRateLimited:
		status = http.StatusTooManyRequests
	case domain.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	case domain.KindCanceled:
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, string(kind), err.Error())
}

func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty request body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
