package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/observability"
)

var whaleStats = map[string]float64{
	domain.FeatureTxCount:           500,
	domain.FeatureTotalNFTVolumeUSD: 120000,
	domain.FeatureTotalGasSpent:     3.2,
	domain.FeatureActiveDays:        42,
	domain.FeatureDexTrades:         7,
}

type fakeBackend struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Explain(context.Context, string, map[string]float64) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Whale", whaleStats)
	assert.Contains(t, prompt, "Persona: Whale")
	assert.Contains(t, prompt, "Transactions: 500")
	assert.Contains(t, prompt, "NFT Volume (USD): $120,000.00")
	assert.Contains(t, prompt, "Gas Spent (ETH): 3.2000")
	assert.Contains(t, prompt, "Active Days: 42")
	assert.Contains(t, prompt, "DEX Trades: 7")
}

func TestChain_FallsBack(t *testing.T) {
	first := &fakeBackend{name: "first", err: errors.New("boom")}
	empty := &fakeBackend{name: "empty", text: "   "}
	last := &fakeBackend{name: "last", text: " Certified whale. "}
	metrics := observability.NewMetrics("test")

	chain := NewChain(zerolog.Nop(), metrics, first, nil, empty, last)
	assert.Equal(t, 3, chain.Len())

	text, err := chain.Explain(context.Background(), "Whale", whaleStats)
	require.NoError(t, err)
	assert.Equal(t, "Certified whale.", text)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(zerolog.Nop(), nil, &fakeBackend{name: "a", err: errors.New("down")})
	_, err := chain.Explain(context.Background(), "Whale", whaleStats)
	assert.ErrorIs(t, err, ErrNoExplanation)
	assert.Contains(t, err.Error(), "a: down")

	_, err = NewChain(zerolog.Nop(), nil).Explain(context.Background(), "Whale", whaleStats)
	assert.ErrorIs(t, err, ErrNoExplanation)
}

func TestChain_StopsOnCanceledContext(t *testing.T) {
	b := &fakeBackend{name: "a", text: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain(zerolog.Nop(), nil, b).Explain(ctx, "Whale", whaleStats)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.calls)
}

func TestChatCompletions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultChatModel, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.True(t, strings.Contains(req.Messages[1].Content, "Persona: Whale"))

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Big spender."}}]}`)
	}))
	defer server.Close()

	backend := NewChatCompletions("groq", server.URL+"/openai/v1/", "key", "")
	text, err := backend.Explain(context.Background(), "Whale", whaleStats)
	require.NoError(t, err)
	assert.Equal(t, "Big spender.", text)
	assert.Equal(t, "groq", backend.Name())
}

func TestChatCompletions_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"garbage", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := NewChatCompletions("", server.URL, "k", "m").Explain(context.Background(), "Whale", whaleStats)
			assert.Error(t, err)
		})
	}
}

func TestGenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, DefaultGenAIModel+":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Whale spotted."}]}}]}`)
	}))
	defer server.Close()

	backend, err := NewGenAI(context.Background(), "key", "", server.URL)
	require.NoError(t, err)

	text, err := backend.Explain(context.Background(), "Whale", whaleStats)
	require.NoError(t, err)
	assert.Equal(t, "Whale spotted.", text)
}
