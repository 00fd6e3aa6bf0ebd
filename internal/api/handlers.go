package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/features"
)

type submitRequest struct {
	Address string `json:"address"`
}

type submitResponse struct {
	JobID string          `json:"job_id"`
	State domain.JobState `json:"state"`
}

type predictResponse struct {
	ClusterLabel  int                `json:"cluster_label"`
	Persona       string             `json:"persona"`
	Probabilities map[string]float64 `json:"probabilities"`
	ModelVersion  string             `json:"model_version"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Wallet persona API is running. POST /v1/jobs to analyze an address.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	id, err := s.jobs.Submit(r.Context(), req.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id, State: domain.JobPending})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleWatch streams job snapshots over a websocket until the job is terminal.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, err := s.jobs.Watch(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case job, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(job); err != nil {
				s.log.Debug().Err(err).Str("job_id", job.ID).Msg("watch write failed")
				return
			}
		}
	}
}

// handlePredict scores a feature map directly. Missing features are 0.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		writeError(w, http.StatusServiceUnavailable, "ModelUnavailable", "model not loaded")
		return
	}

	var values map[string]float64
	if err := readJSON(r, &values); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	vec, err := features.FromMap(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidFeatures", err.Error())
		return
	}

	res, err := s.predictor.Predict(vec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{
		ClusterLabel:  res.ClusterIndex,
		Persona:       res.Persona,
		Probabilities: res.Confidences,
		ModelVersion:  res.ModelVersion,
	})
}
