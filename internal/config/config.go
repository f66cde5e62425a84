// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Browser    BrowsersConfig   `mapstructure:"browser"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Redis      RedisConfig      `mapstructure:"redis"`
	DB         DBConfig         `mapstructure:"db"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Escalation EscalationConfig `mapstructure:"escalation"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIToken string `mapstructure:"api_token"`
}

// QueueConfig tunes delivery leases and stalled detection.
type QueueConfig struct {
	// Backend is one of "redis" or "memory".
	Backend               string `mapstructure:"backend"`
	Name                  string `mapstructure:"name"`
	LockDurationSeconds   int    `mapstructure:"lock_duration_seconds"`
	StalledIntervalSec    int    `mapstructure:"stalled_interval_seconds"`
	MaxStalledCount       int    `mapstructure:"max_stalled_count"`
	DefaultMaxAttempts    int    `mapstructure:"default_max_attempts"`
	DefaultBackoffBaseSec int    `mapstructure:"default_backoff_base_seconds"`
}

// WorkerConfig governs the consumer pool and the polling fallback.
type WorkerConfig struct {
	Concurrency        int    `mapstructure:"concurrency"`
	PollFallback       bool   `mapstructure:"poll_fallback"`
	PollIntervalSec    int    `mapstructure:"poll_interval_seconds"`
	MarkerTimeoutSec   int    `mapstructure:"marker_timeout_seconds"`
	PageMaxAgeSeconds  int    `mapstructure:"page_max_age_seconds"`
	SnapshotPathPrefix string `mapstructure:"snapshot_path_prefix"`
}

// BrowsersConfig configures the shared Chrome process.
type BrowsersConfig struct {
	Headless      bool `mapstructure:"headless"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ProxyConfig points page traffic at the upstream proxy.
type ProxyConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisConfig controls access to the queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	// Backend is one of "postgres" or "memory".
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SnapshotsConfig selects the failure-snapshot backend.
type SnapshotsConfig struct {
	// Backend is one of "gcs", "local" or "none".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for terminal job-event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AdmissionConfig tunes the initial enqueue of new jobs.
type AdmissionConfig struct {
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// EscalationConfig names the challenge queue.
type EscalationConfig struct {
	QueueName   string `mapstructure:"queue_name"`
	Concurrency int    `mapstructure:"concurrency"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NFCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.name", "scraperQueue")
	v.SetDefault("queue.lock_duration_seconds", 300)
	v.SetDefault("queue.stalled_interval_seconds", 60)
	v.SetDefault("queue.max_stalled_count", 3)
	v.SetDefault("queue.default_max_attempts", 5)
	v.SetDefault("queue.default_backoff_base_seconds", 10)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_fallback", false)
	v.SetDefault("worker.poll_interval_seconds", 30)
	v.SetDefault("worker.marker_timeout_seconds", 15)
	v.SetDefault("worker.page_max_age_seconds", 120)
	v.SetDefault("worker.snapshot_path_prefix", "failures")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("snapshots.backend", "none")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("snapshots.local_dir", "")
	// Empty defaults register the keys so AutomaticEnv can override
	// them without a config file.
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_token", "")
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("admission.delay_seconds", 25)
	v.SetDefault("escalation.queue_name", "captchaQueue")
	v.SetDefault("escalation.concurrency", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name is required")
	}
	if c.Queue.Name == c.Escalation.QueueName {
		return fmt.Errorf("queue.name and escalation.queue_name must differ")
	}
	switch c.Queue.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis queue backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Queue.Backend)
	}
	switch c.DB.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db backend: %s", c.DB.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIToken == "" {
		return fmt.Errorf("auth.api_token must be set when auth is enabled")
	}
	if c.Snapshots.Backend == "gcs" && c.Snapshots.GCSBucket == "" {
		return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs backend")
	}
	if c.Snapshots.Backend == "local" && c.Snapshots.LocalDir == "" {
		return fmt.Errorf("snapshots.local_dir must be set for the local backend")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ServerTimeout converts the configured request timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
