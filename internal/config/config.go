// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	// HTTP
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "console" | "json"

	// Model artifacts
	TransformPath string
	ClusterPath   string

	// Dune Analytics
	DuneAPIKey            string
	DuneBaseURL           string
	DuneAggregatesQuery   int
	DuneTransactionsQuery int
	DuneNFTTradesQuery    int
	DuneRateLimit         float64 // requests per second, 0 disables pacing
	DuneBurst             int
	DunePageSize          int
	DuneMaxPages          int
	// UseMemoryProvider swaps Dune for the in-memory fixture provider.
	UseMemoryProvider bool

	// EVM JSON-RPC for bytecode checks; empty leaves account kind to the heuristic.
	EthRPCURL string

	// Storage
	JobBackend         string // memory | postgres
	CacheBackend       string // memory | postgres | redis
	CacheMaxAge        time.Duration
	CacheSweepSchedule string
	PostgresDSN        string
	ClickhouseDSN      string // optional result sink
	RedisURL           string

	// Pipeline
	// InstanceID names this process as a job owner. Recover only fails
	// running jobs recorded under the same id.
	InstanceID       string
	MaxRunning       int
	MaxFetchAttempts int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RoundTripTimeout time.Duration
	ExplainTimeout   time.Duration

	// LLM explainers, tried Gemini first then the chat-completions endpoint.
	GeminiAPIKey string
	GeminiModel  string
	GroqAPIKey   string
	GroqBaseURL  string
	GroqModel    string

	MetricsNamespace string
}

// Load reads the given .env files (or ./.env when none are given, ignoring
// a missing file) and then the process environment. Variables already set
// in the environment win over .env values.
func Load(files ...string) (*Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		HTTPAddr:        envOr("HTTP_ADDR", ":8000"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "console"),

		TransformPath: envOr("MODEL_TRANSFORM_PATH", "models/wallet_power_transformer.yaml"),
		ClusterPath:   envOr("MODEL_CLUSTERS_PATH", "models/kmeans_clusters.yaml"),

		DuneAPIKey:            os.Getenv("DUNE_API_KEY"),
		DuneBaseURL:           envOr("DUNE_BASE_URL", "https://api.dune.com"),
		DuneAggregatesQuery:   envInt("DUNE_AGGREGATES_QUERY_ID", 6252521),
		DuneTransactionsQuery: envInt("DUNE_TRANSACTIONS_QUERY_ID", 0),
		DuneNFTTradesQuery:    envInt("DUNE_NFT_TRADES_QUERY_ID", 0),
		DuneRateLimit:         envFloat("DUNE_RATE_LIMIT", 2),
		DuneBurst:             envInt("DUNE_BURST", 2),
		DunePageSize:          envInt("DUNE_PAGE_SIZE", 1000),
		DuneMaxPages:          envInt("DUNE_MAX_PAGES", 10),
		UseMemoryProvider:     envBool("USE_MEMORY_PROVIDER", false),

		EthRPCURL: os.Getenv("ETH_RPC_URL"),

		JobBackend:         strings.ToLower(envOr("JOB_BACKEND", BackendMemory)),
		CacheBackend:       strings.ToLower(envOr("CACHE_BACKEND", BackendMemory)),
		CacheMaxAge:        envDuration("CACHE_MAX_AGE", 24*time.Hour),
		CacheSweepSchedule: envOr("CACHE_SWEEP_SCHEDULE", "@every 10m"),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN:      os.Getenv("CLICKHOUSE_DSN"),
		RedisURL:           os.Getenv("REDIS_URL"),

		InstanceID:       envOr("INSTANCE_ID", hostname()),
		MaxRunning:       envInt("MAX_RUNNING_JOBS", 4),
		MaxFetchAttempts: envInt("MAX_FETCH_ATTEMPTS", 4),
		InitialBackoff:   envDuration("FETCH_INITIAL_BACKOFF", 500*time.Millisecond),
		MaxBackoff:       envDuration("FETCH_MAX_BACKOFF", 10*time.Second),
		RoundTripTimeout: envDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ExplainTimeout:   envDuration("EXPLAIN_TIMEOUT", 15*time.Second),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:  envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:    envOr("GROQ_MODEL", "llama-3.3-70b-versatile"),

		MetricsNamespace: envOr("METRICS_NAMESPACE", "chain_segment"),
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []error

	if c.TransformPath == "" || c.ClusterPath == "" {
		errs = append(errs, errors.New("MODEL_TRANSFORM_PATH and MODEL_CLUSTERS_PATH are required"))
	}
	if !c.UseMemoryProvider && c.DuneAPIKey == "" {
		errs = append(errs, errors.New("DUNE_API_KEY is required unless USE_MEMORY_PROVIDER is set"))
	}
	if !c.UseMemoryProvider && c.DuneAggregatesQuery <= 0 {
		errs = append(errs, errors.New("DUNE_AGGREGATES_QUERY_ID must be positive"))
	}

	switch c.JobBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for JOB_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown JOB_BACKEND %q", c.JobBackend))
	}

	switch c.CacheBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for CACHE_BACKEND=postgres"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for CACHE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}

	if c.MaxRunning <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RUNNING_JOBS must be positive, got %d", c.MaxRunning))
	}
	if c.MaxFetchAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FETCH_ATTEMPTS must be positive, got %d", c.MaxFetchAttempts))
	}
	if c.CacheMaxAge <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_AGE must be positive"))
	}
	if c.DuneRateLimit < 0 {
		errs = append(errs, errors.New("DUNE_RATE_LIMIT must not be negative"))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// helpers
func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
