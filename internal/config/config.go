package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

const (
	BackendMinio  = "minio"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

type Config struct {
	Log       LogConfig
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Resize    ResizeConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Addr           string
	RequestTimeout time.Duration
	UserIDHeader   string
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
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Backend string

	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	Bucket     string
	Region     string
	S3Endpoint string

	// OriginBucket pins the bucket used for origin-response events. Empty
	// derives it from each event's S3 origin domain.
	OriginBucket string

	WriteWorkers   int
	WriteQueueSize int
	WriteTimeout   time.Duration
}

type DatabaseConfig struct {
	// DSN selects the postgres variant ledger. Empty keeps it in memory.
	DSN string
}

type ResizeConfig struct {
	Prefix            string
	Whitelist         string
	StrictStoreErrors bool
	DedupeInflight    bool
	GenerationTimeout time.Duration
	PassThroughTypes  []string
	CacheControl      string
	VariantTTL        time.Duration
}

// Policy builds the domain policy for the configured resize settings.
func (r ResizeConfig) Policy() domain.Policy {
	policy := domain.DefaultPolicy()
	policy.Whitelist = domain.ParseWhitelist(r.Whitelist)
	policy.StrictStoreErrors = r.StrictStoreErrors
	if len(r.PassThroughTypes) > 0 {
		policy.PassThroughTypes = r.PassThroughTypes
	}
	if r.CacheControl != "" {
		policy.CacheControl = r.CacheControl
	}
	if r.VariantTTL > 0 {
		policy.VariantTTL = r.VariantTTL
	}
	return policy
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load reads configuration from the environment, optionally layered over a
// pixelcache.toml in the working directory.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("pixelcache")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Log: LogConfig{
			Level: v.GetString("log_level"),
		},
		API: APIConfig{
			Addr:           v.GetString("pixelcache_api_addr"),
			RequestTimeout: v.GetDuration("api_request_timeout"),
			UserIDHeader:   v.GetString("rate_limit_user_header"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
			Name:          v.GetString("async_queue"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker_concurrency"),
			MaxActiveJobs: v.GetInt("worker_max_active_jobs"),
			MetricsAddr:   v.GetString("worker_metrics_addr"),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("storage_backend"))),
			Endpoint:       v.GetString("minio_endpoint"),
			AccessKey:      v.GetString("minio_access_key"),
			SecretKey:      v.GetString("minio_secret_key"),
			UseSSL:         v.GetBool("minio_use_ssl"),
			Bucket:         v.GetString("bucket"),
			OriginBucket:   v.GetString("origin_bucket"),
			Region:         v.GetString("s3_region"),
			S3Endpoint:     v.GetString("s3_endpoint"),
			WriteWorkers:   v.GetInt("variant_write_workers"),
			WriteQueueSize: v.GetInt("variant_write_queue_size"),
			WriteTimeout:   v.GetDuration("variant_write_timeout"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("postgres_dsn"),
		},
		Resize: ResizeConfig{
			Prefix:            strings.Trim(v.GetString("resize_prefix"), "/"),
			Whitelist:         v.GetString("whitelisted_dimensions"),
			StrictStoreErrors: v.GetBool("resizer_strict_store_errors"),
			DedupeInflight:    v.GetBool("resizer_dedupe_inflight"),
			GenerationTimeout: v.GetDuration("resizer_generation_timeout"),
			PassThroughTypes:  v.GetStringSlice("resizer_passthrough_types"),
			CacheControl:      v.GetString("resizer_cache_control"),
			VariantTTL:        v.GetDuration("resizer_variant_ttl"),
		},
		Tracing: TracingConfig{
			Exporter:     v.GetString("trace_exporter"),
			OTLPEndpoint: v.GetString("otlp_endpoint"),
			OTLPInsecure: v.GetBool("otlp_insecure"),
			SampleRatio:  v.GetFloat64("trace_sample_ratio"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("rate_limit_enabled"),
			Capacity: v.GetInt("rate_limit_capacity"),
			Window:   v.GetDuration("rate_limit_window"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("webhook_signing_secret"),
			Timeout:        v.GetDuration("webhook_timeout"),
			MaxAttempts:    v.GetInt("webhook_max_attempts"),
			InitialBackoff: v.GetDuration("webhook_initial_backoff"),
			MaxBackoff:     v.GetDuration("webhook_max_backoff"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("pixelcache_api_addr", ":8080")
	v.SetDefault("api_request_timeout", 25*time.Second)
	v.SetDefault("rate_limit_user_header", "X-User-ID")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("async_queue", "default")

	v.SetDefault("worker_concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker_max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker_metrics_addr", ":9091")

	v.SetDefault("storage_backend", BackendMinio)
	v.SetDefault("minio_endpoint", "localhost:9000")
	v.SetDefault("minio_access_key", "minioadmin")
	v.SetDefault("minio_secret_key", "minioadmin")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("bucket", "pixelcache-images")
	v.SetDefault("origin_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("variant_write_workers", 4)
	v.SetDefault("variant_write_queue_size", 256)
	v.SetDefault("variant_write_timeout", 30*time.Second)

	v.SetDefault("postgres_dsn", "")

	v.SetDefault("resize_prefix", domain.DefaultPrefix)
	v.SetDefault("whitelisted_dimensions", "")
	v.SetDefault("resizer_strict_store_errors", false)
	v.SetDefault("resizer_dedupe_inflight", true)
	v.SetDefault("resizer_generation_timeout", time.Minute)
	v.SetDefault("resizer_passthrough_types", domain.DefaultPassThroughTypes)
	v.SetDefault("resizer_cache_control", domain.DefaultCacheControl)
	v.SetDefault("resizer_variant_ttl", domain.DefaultVariantTTL)

	v.SetDefault("trace_exporter", "none")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("otlp_insecure", true)
	v.SetDefault("trace_sample_ratio", 1.0)

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_capacity", 60)
	v.SetDefault("rate_limit_window", time.Minute)

	v.SetDefault("webhook_signing_secret", "")
	v.SetDefault("webhook_timeout", 10*time.Second)
	v.SetDefault("webhook_max_attempts", 3)
	v.SetDefault("webhook_initial_backoff", time.Second)
	v.SetDefault("webhook_max_backoff", 10*time.Second)
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case BackendMinio, BackendS3, BackendMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.Backend != BackendMemory && strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("BUCKET is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate limit capacity and window must be positive")
	}
	return nil
}
