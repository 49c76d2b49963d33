// Package config loads the flat configuration keys described in spec §6
// from the environment, following the teacher's caarlos0/env idiom.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration. Every field maps to a flat
// key named in spec §6; nesting here is Go struct nesting only.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr   string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	StorePrefix string `env:"STORE_PREFIX" envDefault:"enq"`

	Email        EmailConfig
	ObjectStore  ObjectStoreConfig
	API          APIConfig
	EmailPolling EmailPollingConfig
	Jobs         JobsConfig
}

// EmailConfig binds spec §6's `email.provider` family.
type EmailConfig struct {
	Provider string `env:"EMAIL_PROVIDER" envDefault:"mock"` // pop3 | imap | mock

	POP3Host     string `env:"EMAIL_POP3_HOST"`
	POP3Port     int    `env:"EMAIL_POP3_PORT" envDefault:"995"`
	POP3User     string `env:"EMAIL_POP3_USER"`
	POP3Password string `env:"EMAIL_POP3_PASSWORD"`
	POP3TLS      bool   `env:"EMAIL_POP3_TLS" envDefault:"true"`

	IMAPHost     string `env:"EMAIL_IMAP_HOST"`
	IMAPPort     int    `env:"EMAIL_IMAP_PORT" envDefault:"993"`
	IMAPUser     string `env:"EMAIL_IMAP_USER"`
	IMAPPassword string `env:"EMAIL_IMAP_PASSWORD"`
	IMAPTLS      bool   `env:"EMAIL_IMAP_TLS" envDefault:"true"`

	SMTPHost     string `env:"EMAIL_SMTP_HOST"`
	SMTPPort     int    `env:"EMAIL_SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"EMAIL_SMTP_USER"`
	SMTPPassword string `env:"EMAIL_SMTP_PASSWORD"`
	SMTPFrom     string `env:"EMAIL_SMTP_FROM"`
}

// ObjectStoreConfig binds spec §6's `objectStore.*` family.
type ObjectStoreConfig struct {
	Provider  string `env:"OBJECTSTORE_PROVIDER" envDefault:"mock"` // s3 | mock
	Endpoint  string `env:"OBJECTSTORE_ENDPOINT"`
	AccessKey string `env:"OBJECTSTORE_ACCESS_KEY"`
	SecretKey string `env:"OBJECTSTORE_SECRET_KEY"`
	Bucket    string `env:"OBJECTSTORE_BUCKET" envDefault:"csv-files"`
	SSL       bool   `env:"OBJECTSTORE_SSL" envDefault:"true"`
	TestMode  bool   `env:"OBJECTSTORE_TEST_MODE" envDefault:"false"`
	TestID    string `env:"OBJECTSTORE_TEST_ID"`
}

// APIConfig binds spec §6's `api.*` family, the outbound HTTP endpoint C6
// posts batches to.
type APIConfig struct {
	BaseURL        string `env:"API_BASE_URL"`
	Endpoint       string `env:"API_ENDPOINT" envDefault:"/ingest/price-list"`
	APIKey         string `env:"API_API_KEY"`
	BearerToken    string `env:"API_BEARER_TOKEN"`
	TimeoutSeconds int    `env:"API_TIMEOUT_SECONDS" envDefault:"30"`
}

// EmailPollingConfig binds spec §6's recurring schedule cron expression.
type EmailPollingConfig struct {
	CronExpression string `env:"EMAIL_POLLING_CRON" envDefault:"*/5 * * * *"`
}

// JobsConfig binds spec §6's `jobs.*` family.
type JobsConfig struct {
	WorkerCount          int   `env:"JOBS_WORKER_COUNT" envDefault:"0"` // 0 => runtime.NumCPU()
	RetryDelaysSeconds   []int `env:"JOBS_RETRY_DELAYS_SECONDS" envSeparator:"," envDefault:"300,600,900"`
	LeaseTTLSeconds      int   `env:"JOBS_LEASE_TTL_SECONDS" envDefault:"120"`
	BatchSize            int   `env:"JOBS_BATCH_SIZE" envDefault:"1000"`
	PurgeAfterSeconds    int   `env:"JOBS_PURGE_AFTER_SECONDS" envDefault:"604800"`
	FetchPollIntervalMS  int   `env:"JOBS_FETCH_POLL_INTERVAL_MS" envDefault:"500"`
	ShutdownGraceSeconds int   `env:"JOBS_SHUTDOWN_GRACE_SECONDS" envDefault:"30"`
}

// Load parses the environment into a Config, exactly as the teacher's
// original Load did, generalized to the fuller field set above.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}
