package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	JWTSecret   string
	GeoIPDBPath string
	CORSOrigins []string

	StorageBackend  string
	StoragePath     string
	StorageBaseURL  string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string

	QueueBackend   string
	AMQPURL        string
	AMQPExchange   string
	AMQPQueue      string
	AMQPRoutingKey string
	AMQPPrefetch   int

	RedisURL          string
	PushChannelPrefix string

	GeminiAPIKeys []string
	GeminiModel   string
	GeminiBaseURL string

	WorkerLeaseTTL    time.Duration
	WorkerMaxAttempts int
	WorkerConcurrency int
	StageTimeout      time.Duration
	SweepInterval     time.Duration
	SweepGrace        time.Duration
	ParallelRenders   bool
	SubmitMaxWait     time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

const (
	QueueBackendLocal = "local"
	QueueBackendAMQP  = "amqp"

	StorageBackendFilesystem = "filesystem"
	StorageBackendS3         = "s3"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendFilesystem)),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "genforge-artifacts"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", false),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		QueueBackend:   strings.ToLower(getEnv("QUEUE_BACKEND", QueueBackendLocal)),
		AMQPURL:        os.Getenv("AMQP_URL"),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "genforge.jobs"),
		AMQPQueue:      getEnv("AMQP_QUEUE", "genforge.jobs.render"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "job.render"),
		AMQPPrefetch:   getEnvInt("AMQP_PREFETCH", 2),

		RedisURL:          os.Getenv("REDIS_URL"),
		PushChannelPrefix: getEnv("PUSH_CHANNEL_PREFIX", "genforge:jobs:"),

		GeminiAPIKeys: getEnvList("GEMINI_API_KEYS"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		WorkerLeaseTTL:    getEnvDuration("WORKER_LEASE_TTL", 3*time.Minute),
		WorkerMaxAttempts: getEnvInt("WORKER_MAX_ATTEMPTS", 3),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		StageTimeout:      getEnvDuration("STAGE_TIMEOUT", 90*time.Second),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		SweepGrace:        getEnvDuration("SWEEP_GRACE", time.Minute),
		ParallelRenders:   getEnvBool("PARALLEL_RENDERS", false),
		SubmitMaxWait:     getEnvDuration("SUBMIT_MAX_WAIT", 60*time.Second),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	// single legacy key still works
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" && !contains(cfg.GeminiAPIKeys, key) {
		cfg.GeminiAPIKeys = append(cfg.GeminiAPIKeys, key)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.QueueBackend {
	case QueueBackendLocal:
	case QueueBackendAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required when QUEUE_BACKEND=amqp")
		}
	default:
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	switch cfg.StorageBackend {
	case StorageBackendFilesystem:
	case StorageBackendS3:
		if cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("S3_ENDPOINT is required when STORAGE_BACKEND=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.WorkerMaxAttempts < 1 {
		cfg.WorkerMaxAttempts = 1
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
