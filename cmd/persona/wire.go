package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nice-bills/chain-segment/internal/config"
	"github.com/nice-bills/chain-segment/internal/explain"
	"github.com/nice-bills/chain-segment/internal/fetcher"
	"github.com/nice-bills/chain-segment/internal/idhash"
	"github.com/nice-bills/chain-segment/internal/model"
	"github.com/nice-bills/chain-segment/internal/observability"
	"github.com/nice-bills/chain-segment/internal/orchestrator"
	"github.com/nice-bills/chain-segment/internal/provider"
	"github.com/nice-bills/chain-segment/internal/provider/chain"
	"github.com/nice-bills/chain-segment/internal/provider/dune"
	"github.com/nice-bills/chain-segment/internal/provider/stub"
	"github.com/nice-bills/chain-segment/internal/storage"
	chstore "github.com/nice-bills/chain-segment/internal/storage/clickhouse"
	"github.com/nice-bills/chain-segment/internal/storage/memory"
	"github.com/nice-bills/chain-segment/internal/storage/migrations"
	pgstore "github.com/nice-bills/chain-segment/internal/storage/postgres"
	redisstore "github.com/nice-bills/chain-segment/internal/storage/redis"
)

// app holds the wired components of one process.
type app struct {
	predictor *model.Predictor
	orch      *orchestrator.Orchestrator
	metrics   *observability.Metrics

	closers []func()
}

// Close stops the orchestrator first, then releases backends in reverse order.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// stores are the storage backends selected by config.
type stores struct {
	jobs  storage.JobStore
	cache storage.ActivityCache
	sink  storage.ResultSink
}

// buildApp wires every component from cfg. On error everything opened so
// far is released.
func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{metrics: observability.NewMetrics(cfg.MetricsNamespace)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	artifacts, err := model.LoadArtifacts(cfg.TransformPath, cfg.ClusterPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	a.predictor, err = model.NewPredictor(artifacts)
	if err != nil {
		return nil, fmt.Errorf("build predictor: %w", err)
	}
	log.Info().Str("model_version", idhash.Short(artifacts.Version)).Int("personas", len(artifacts.Clusters.Clusters)).Msg("model loaded")

	st, err := createStores(ctx, a, cfg, log)
	if err != nil {
		return nil, err
	}

	prov, checker, err := createProvider(ctx, a, cfg, log)
	if err != nil {
		return nil, err
	}

	f := fetcher.New(st.cache, prov, fetcher.Options{
		MaxAge:           cfg.CacheMaxAge,
		RoundTripTimeout: cfg.RoundTripTimeout,
		CodeChecker:      checker,
		Metrics:          a.metrics,
		Logger:           log.With().Str("component", "fetcher").Logger(),
	})
	a.onClose(f.Close)

	explainer, err := createExplainer(ctx, cfg, log, a.metrics)
	if err != nil {
		return nil, err
	}

	a.orch = orchestrator.New(orchestrator.Options{
		Jobs:             st.jobs,
		Fetcher:          f,
		Predictor:        a.predictor,
		Explainer:        explainer,
		Sink:             st.sink,
		MaxRunning:       cfg.MaxRunning,
		MaxFetchAttempts: cfg.MaxFetchAttempts,
		InitialBackoff:   cfg.InitialBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		ExplainTimeout:   cfg.ExplainTimeout,
		Owner:            cfg.InstanceID,
		Metrics:          a.metrics,
		Logger:           log,
	})
	ok = true
	return a, nil
}

func createStores(ctx context.Context, a *app, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	st := &stores{}

	var pool *pgstore.Pool
	if cfg.JobBackend == config.BackendPostgres || cfg.CacheBackend == config.BackendPostgres {
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.onClose(p.Close)
		if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		pool = p
	}

	switch cfg.JobBackend {
	case config.BackendPostgres:
		st.jobs = pgstore.NewJobStore(pool)
	default:
		st.jobs = memory.NewJobStore()
	}

	switch cfg.CacheBackend {
	case config.BackendPostgres:
		st.cache = pgstore.NewActivityCache(pool)
	case config.BackendRedis:
		client, err := redisstore.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.onClose(func() { client.Close() })
		st.cache = redisstore.NewActivityCache(client, redisstore.WithRetention(cfg.CacheMaxAge))
	default:
		mc := memory.NewActivityCache()
		stop, err := mc.StartSweeper(cfg.CacheSweepSchedule, cfg.CacheMaxAge, log.With().Str("component", "cache").Logger())
		if err != nil {
			return nil, fmt.Errorf("cache sweep schedule: %w", err)
		}
		a.onClose(stop)
		st.cache = mc
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		a.onClose(func() { conn.Close() })
		st.sink = chstore.NewPersonaResultStore(conn)
	}

	log.Info().
		Str("jobs", cfg.JobBackend).
		Str("cache", cfg.CacheBackend).
		Bool("result_sink", st.sink != nil).
		Msg("storage ready")
	return st, nil
}

func createProvider(ctx context.Context, a *app, cfg *config.Config, log zerolog.Logger) (provider.Provider, provider.CodeChecker, error) {
	var (
		prov    provider.Provider
		checker provider.CodeChecker
	)
	if cfg.UseMemoryProvider {
		s := stub.NewProvider()
		prov, checker = s, s
		log.Warn().Msg("using in-memory provider, every address has empty activity")
	} else {
		prov = dune.NewClient(cfg.DuneAPIKey, dune.Queries{
			Aggregates:   cfg.DuneAggregatesQuery,
			Transactions: cfg.DuneTransactionsQuery,
			NFTTrades:    cfg.DuneNFTTradesQuery,
		},
			dune.WithBaseURL(cfg.DuneBaseURL),
			dune.WithRateLimit(cfg.DuneRateLimit, cfg.DuneBurst),
			dune.WithPaging(cfg.DunePageSize, cfg.DuneMaxPages),
			dune.WithLogger(log.With().Str("component", "dune").Logger()),
		)
	}

	if cfg.EthRPCURL != "" {
		cc, err := chain.Dial(ctx, cfg.EthRPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial eth rpc: %w", err)
		}
		a.onClose(cc.Close)
		checker = cc
	}
	return prov, checker, nil
}

// createExplainer returns nil when no LLM backend is configured.
func createExplainer(ctx context.Context, cfg *config.Config, log zerolog.Logger, metrics *observability.Metrics) (explain.Explainer, error) {
	var backends []explain.Backend
	if cfg.GeminiAPIKey != "" {
		g, err := explain.NewGenAI(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, "")
		if err != nil {
			return nil, err
		}
		backends = append(backends, g)
	}
	if cfg.GroqAPIKey != "" {
		backends = append(backends, explain.NewChatCompletions("groq", cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.GroqModel))
	}
	if len(backends) == 0 {
		log.Info().Msg("no LLM key configured, explanations disabled")
		return nil, nil
	}
	return explain.NewChain(log.With().Str("component", "explain").Logger(), metrics, backends...), nil
}
