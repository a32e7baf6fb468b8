package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Telemetry TelemetryConfig
	Auth      AuthConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Compress  CompressConfig
	Artifacts ArtifactConfig
	Scheduler SchedulerConfig
	Metrics   MetricsPushConfig
}

// TelemetryConfig follows the standard OTEL_* variable names so collectors
// configured for other services work unchanged.
type TelemetryConfig struct {
	LogLevel          string
	LogFormat         string
	LogSampleInitial  int
	LogSampleAfter    int
	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	AdminToken string
}

type BillingConfig struct {
	StripeWebhookSecret   string
	SignatureTolerance    time.Duration
	ProcessedEventTTL     time.Duration
	CatalogPath           string
	ReconcileMaxAttempts  int
	AccountRefCacheSize   int
	AccountRefCacheTTL    time.Duration
	NotifyBillingEventsTo string
	NotifyPaymentFailed   bool
	OpsSlackWebhookURL    string
	StripeSecretKey       string
	StripeAPIBase         string
	FrontendURL           string
	APITimeout            time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CompressAccountRate  float64
	CompressAccountBurst int
	SchedulerLockTTL     time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	InboxAddress string
}

type CompressConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type ArtifactConfig struct {
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	RecentLimit    int
}

type SchedulerConfig struct {
	Enabled       bool
	RolloverCron  string
	SafetyCron    string
	PruneCron     string
	RolloverBatch int
	JobTimeout    time.Duration
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "contextswitch"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":5001"),
		NodeID:      int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "contextswitch"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "contextswitch.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Telemetry: TelemetryConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			LogSampleInitial:  getenvInt("LOG_SAMPLE_INITIAL", 100),
			LogSampleAfter:    getenvInt("LOG_SAMPLE_THEREAFTER", 100),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Auth: AuthConfig{
			JWTSecret:  strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:  strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			AdminToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		},
		Billing: BillingConfig{
			StripeWebhookSecret:   strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SignatureTolerance:    getenvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
			ProcessedEventTTL:     getenvDuration("BILLING_PROCESSED_EVENT_TTL", 30*24*time.Hour),
			CatalogPath:           strings.TrimSpace(getenv("BILLING_CATALOG_PATH", "")),
			ReconcileMaxAttempts:  getenvInt("BILLING_RECONCILE_MAX_ATTEMPTS", 5),
			AccountRefCacheSize:   getenvInt("BILLING_ACCOUNT_REF_CACHE_SIZE", 4096),
			AccountRefCacheTTL:    getenvDuration("BILLING_ACCOUNT_REF_CACHE_TTL", 5*time.Minute),
			NotifyBillingEventsTo: strings.TrimSpace(getenv("BILLING_NOTIFY_TO", "")),
			NotifyPaymentFailed:   getenvBool("BILLING_NOTIFY_PAYMENT_FAILED", true),
			OpsSlackWebhookURL:    strings.TrimSpace(getenv("BILLING_OPS_SLACK_WEBHOOK_URL", "")),
			StripeSecretKey:       strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeAPIBase:         strings.TrimRight(strings.TrimSpace(getenv("STRIPE_API_BASE", "https://api.stripe.com")), "/"),
			FrontendURL:           strings.TrimRight(strings.TrimSpace(getenv("FRONTEND_URL", "http://localhost:3000")), "/"),
			APITimeout:            getenvDuration("STRIPE_API_TIMEOUT", 15*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:              getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:            strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword:        getenv("REDIS_PASSWORD", ""),
			RedisDB:              getenvInt("REDIS_DB", 0),
			CompressAccountRate:  getenvFloat("RATE_LIMIT_COMPRESS_RATE", 0.5),
			CompressAccountBurst: getenvInt("RATE_LIMIT_COMPRESS_BURST", 5),
			SchedulerLockTTL:     getenvDuration("SCHEDULER_LOCK_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USER", ""),
			SMTPPassword: getenv("SMTP_PASS", ""),
			SMTPFrom:     getenv("SMTP_FROM", "ContextSwitch <no-reply@contextswitch.local>"),
			InboxAddress: getenv("CONTACT_INBOX", getenv("SMTP_USER", "")),
		},
		Compress: CompressConfig{
			Endpoint:    strings.TrimSpace(getenv("COMPRESSOR_ENDPOINT", "https://api.openai.com/v1/chat/completions")),
			APIKey:      strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			Model:       getenv("COMPRESSOR_MODEL", "gpt-4o-mini"),
			MaxTokens:   getenvInt("COMPRESSOR_MAX_TOKENS", 2000),
			Temperature: getenvFloat("COMPRESSOR_TEMPERATURE", 0.3),
			Timeout:     getenvDuration("COMPRESSOR_TIMEOUT", 60*time.Second),
		},
		Artifacts: ArtifactConfig{
			S3Bucket:       strings.TrimSpace(getenv("ARTIFACTS_S3_BUCKET", "")),
			S3Region:       strings.TrimSpace(getenv("ARTIFACTS_S3_REGION", "us-east-1")),
			S3Endpoint:     strings.TrimSpace(getenv("ARTIFACTS_S3_ENDPOINT", "")),
			S3Prefix:       strings.Trim(getenv("ARTIFACTS_S3_PREFIX", "contexts"), "/"),
			S3AccessKey:    strings.TrimSpace(getenv("ARTIFACTS_S3_ACCESS_KEY", "")),
			S3SecretKey:    strings.TrimSpace(getenv("ARTIFACTS_S3_SECRET_KEY", "")),
			S3UsePathStyle: getenvBool("ARTIFACTS_S3_PATH_STYLE", false),
			RecentLimit:    getenvInt("ARTIFACTS_RECENT_LIMIT", 10),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RolloverCron:  getenv("SCHEDULER_ROLLOVER_CRON", "5 0 1 * *"),
			SafetyCron:    getenv("SCHEDULER_ROLLOVER_SAFETY_CRON", "17 * * * *"),
			PruneCron:     getenv("SCHEDULER_PRUNE_CRON", "30 3 * * *"),
			RolloverBatch: getenvInt("SCHEDULER_ROLLOVER_BATCH", 200),
			JobTimeout:    getenvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
