package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nice-bills/chain-segment/internal/api"
	"github.com/nice-bills/chain-segment/internal/client"
	"github.com/nice-bills/chain-segment/internal/config"
	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/model"
	"github.com/nice-bills/chain-segment/internal/reporting"
	"github.com/nice-bills/chain-segment/internal/storage"
	"github.com/nice-bills/chain-segment/internal/storage/memory"
)

var (
	transformPath = filepath.Join("..", "..", "internal", "model", "testdata", "wallet_power_transformer.yaml")
	clusterPath   = filepath.Join("..", "..", "internal", "model", "testdata", "kmeans_clusters.yaml")
)

func testPredictor(t *testing.T) *model.Predictor {
	t.Helper()
	a, err := model.LoadArtifacts(transformPath, clusterPath)
	require.NoError(t, err)
	p, err := model.NewPredictor(a)
	require.NoError(t, err)
	return p
}

func TestPredictedPath(t *testing.T) {
	assert.Equal(t, "data/wallets_predicted.csv", predictedPath("data/wallets.csv"))
	assert.Equal(t, "WALLETS_predicted.csv", predictedPath("WALLETS.CSV"))
	assert.Equal(t, "wallets.tsv_predicted.csv", predictedPath("wallets.tsv"))
}

func TestPredictCSV(t *testing.T) {
	in := strings.Join([]string{
		"wallet,tx_count,active_days,total_nft_volume_usd",
		"0xaaa,1767,90,384457660",
		"0xbbb,3,1,",
	}, "\n")

	var out bytes.Buffer
	n, err := predictCSV(testPredictor(t), strings.NewReader(in), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"wallet", "tx_count", "active_days", "total_nft_volume_usd", "predicted_cluster", "predicted_persona"}, rows[0])
	for _, row := range rows[1:] {
		require.Len(t, row, 6)
		assert.NotEmpty(t, row[5])
	}
	assert.Equal(t, "0xaaa", rows[1][0], "non-feature columns pass through")
}

func TestPredictCSV_BadValue(t *testing.T) {
	in := "tx_count,active_days\nlots,3\n"
	_, err := predictCSV(testPredictor(t), strings.NewReader(in), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx_count")
}

func TestPredictSample(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, predictSample(&out, testPredictor(t), []string{"tx_count=1767", "active_days=90"}))
	assert.Contains(t, out.String(), "Persona:")
	assert.Contains(t, out.String(), "1,767.00")

	assert.Error(t, predictSample(&out, testPredictor(t), []string{"wallet_age=3"}))
	assert.Error(t, predictSample(&out, testPredictor(t), []string{"tx_count"}))
}

func TestPrintJob(t *testing.T) {
	var out bytes.Buffer
	err := printJob(&out, &domain.Job{
		Address: "0xabc",
		State:   domain.JobCompleted,
		Result: &domain.PersonaResult{
			Persona:      "Whale",
			Confidences:  map[string]float64{"Whale": 0.7, "Shrimp": 0.2, "Bot": 0.1},
			Stats:        map[string]float64{domain.FeatureTotalNFTVolumeUSD: 120000},
			AccountKind:  domain.AccountEOA,
			ModelVersion: strings.Repeat("ab", 32),
			Explanation:  "Big spender.",
		},
	})
	require.NoError(t, err)

	text := out.String()
	assert.Less(t, strings.Index(text, "%  Whale"), strings.Index(text, "%  Shrimp"), "sorted by confidence")
	assert.Contains(t, text, "70.00%")
	assert.Contains(t, text, "120,000.00")
	assert.Contains(t, text, "Big spender.")

	out.Reset()
	err = printJob(&out, &domain.Job{Address: "0xabc", State: domain.JobFailed, ErrorKind: domain.KindUpstreamRateLimited})
	assert.Error(t, err)
	assert.Contains(t, out.String(), "UpstreamRateLimited")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(os.Stderr, "warn", "json")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	_, err = newLogger(os.Stderr, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(os.Stderr, "info", "xml")
	assert.Error(t, err)
}

func memoryConfig() *config.Config {
	return &config.Config{
		TransformPath:      transformPath,
		ClusterPath:        clusterPath,
		UseMemoryProvider:  true,
		JobBackend:         config.BackendMemory,
		CacheBackend:       config.BackendMemory,
		CacheMaxAge:        time.Hour,
		CacheSweepSchedule: "@every 1m",
		MaxRunning:         2,
		MaxFetchAttempts:   2,
		LogFormat:          "json",
	}
}

func TestBuildApp_InMemoryAnalyze(t *testing.T) {
	c := memoryConfig()
	c.MetricsNamespace = "inmemory_analyze"
	require.NoError(t, c.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := buildApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	id, err := a.orch.Submit(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	updates, err := a.orch.Watch(ctx, id)
	require.NoError(t, err)

	var last *domain.Job
	for j := range updates {
		last = j
	}
	require.NotNil(t, last)
	assert.Equal(t, domain.JobCompleted, last.State)
	assert.Equal(t, domain.AccountEOA, last.Result.AccountKind, "stub reports no bytecode")

	var out bytes.Buffer
	require.NoError(t, printJob(&out, last))
	assert.Contains(t, out.String(), last.Result.Persona)
}

func TestBuildApp_BadArtifacts(t *testing.T) {
	c := &config.Config{
		TransformPath:     "missing.yaml",
		ClusterPath:       clusterPath,
		UseMemoryProvider: true,
		MetricsNamespace:  "bad_artifacts",
	}
	_, err := buildApp(context.Background(), c, zerolog.Nop())
	assert.Error(t, err)
}

func TestAnalyzeRemote(t *testing.T) {
	c := memoryConfig()
	c.MetricsNamespace = "analyze_remote"
	require.NoError(t, c.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := buildApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(api.New(api.Options{Jobs: a.orch, Predictor: a.predictor, Metrics: a.metrics}).Handler())
	defer srv.Close()

	job, err := analyzeRemote(ctx, client.New(srv.URL), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.State)

	_, err = analyzeRemote(ctx, client.New(srv.URL), "not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestWriteReport(t *testing.T) {
	sink := memory.NewResultSink()
	require.NoError(t, sink.Insert(context.Background(), &storage.PersonaResultRecord{
		JobID: "j1", Address: "0x00000000000000000000000000000000000000aa", Persona: "Whale", CompletedAt: 1,
	}))
	r, err := reporting.NewGenerator(sink).Generate(context.Background(), "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, writeReport(dir, r))

	md, err := os.ReadFile(filepath.Join(dir, "persona_report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "| Whale | 1 | 100.00% |")
	assert.FileExists(t, filepath.Join(dir, "persona_distribution.csv"))
	assert.FileExists(t, filepath.Join(dir, "persona_history.csv"))
}
