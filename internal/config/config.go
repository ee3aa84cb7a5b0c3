package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Archive   ArchiveConfig
	Stores    StoresConfig
	Dispatch  DispatchConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

// ArchiveConfig points at the object store the reconciliation worker writes
// drift reports to.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StoresConfig carries one DSN per physical store. Commerce and ledger
// default to the dispatch DSN since most deployments colocate them; an
// empty dispatch DSN leaves the core unconfigured and every feature
// degrades to empty results.
type StoresConfig struct {
	DispatchDSN string
	CommerceDSN string
	LedgerDSN   string
}

// DispatchConfig tunes schema resolution and the merge view.
type DispatchConfig struct {
	JobTables         []string
	AssignmentTables  []string
	PayoutShare       float64
	ReconcileInterval time.Duration
}

type WebhookConfig struct {
	Endpoint      string
	SigningSecret string
}

// RateLimitConfig tunes the per-user token bucket on assignment writes.
// Disabled by default so the API runs without Redis in development.
type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	dispatchDSN := env("DISPATCH_DB_DSN", "")

	return Config{
		API: APIConfig{
			Addr: env("DISPATCH_API_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("DISPATCH_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("DISPATCH_WORKER_METRICS_ADDR", ":9090"),
		},
		Archive: ArchiveConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "dispatch-reports"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Stores: StoresConfig{
			DispatchDSN: dispatchDSN,
			CommerceDSN: env("COMMERCE_DB_DSN", dispatchDSN),
			LedgerDSN:   env("LEDGER_DB_DSN", dispatchDSN),
		},
		Dispatch: DispatchConfig{
			JobTables:         envList("DISPATCH_JOB_TABLES"),
			AssignmentTables:  envList("DISPATCH_ASSIGNMENT_TABLES"),
			PayoutShare:       envFloat("DISPATCH_PAYOUT_SHARE", 0.70),
			ReconcileInterval: time.Duration(envInt("DISPATCH_RECONCILE_INTERVAL_SECONDS", 600)) * time.Second,
		},
		Webhook: WebhookConfig{
			Endpoint:      env("DISPATCH_WEBHOOK_URL", ""),
			SigningSecret: env("DISPATCH_WEBHOOK_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("DISPATCH_RATE_LIMIT_ENABLED", false),
			Capacity: envInt("DISPATCH_RATE_LIMIT_CAPACITY", 60),
			Window:   time.Duration(envInt("DISPATCH_RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("DISPATCH_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("DISPATCH_TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("DISPATCH_TRACE_OTLP_INSECURE", true),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList parses a comma-separated override for a candidate table list.
// Empty means "use the built-in candidates".
func envList(key string) []string {
	value := env(key, "")
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
