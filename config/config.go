package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Library    LibraryConfig    `yaml:"library"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Hub        HubConfig        `yaml:"hub"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	GateFeed   GateFeedConfig   `yaml:"gate_feed"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// LibraryConfig describes the physical library.
type LibraryConfig struct {
	TotalCapacity int  `yaml:"total_capacity"`
	SeedDemo      bool `yaml:"seed_demo"`
}

// AuthConfig controls login and token issuing.
type AuthConfig struct {
	EmailDomain   string        `yaml:"email_domain"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTLHours int           `yaml:"token_ttl_hours"`
	TokenTTL      time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// HubConfig tunes the live feed connections.
type HubConfig struct {
	SendBuffer          int           `yaml:"send_buffer"`
	PingIntervalSeconds int           `yaml:"ping_interval_seconds"`
	PingInterval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// GateFeedConfig configures polling of the upstream turnstile controller.
type GateFeedConfig struct {
	Enabled         bool            `yaml:"enabled"`
	IntervalSeconds int             `yaml:"interval_seconds"`
	Interval        time.Duration   `yaml:"-"`
	Timezone        string          `yaml:"timezone"`
	HTTPProxy       string          `yaml:"http_proxy"`
	Request         GateFeedRequest `yaml:"request"`
}

// GateFeedRequest defines the HTTP request for the gate feed.
type GateFeedRequest struct {
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	PageSize int               `yaml:"pageSize"`
	Payload  map[string]any    `yaml:"payload"`
}

// ReconcileConfig schedules the storage hygiene sweep.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 1
	}

	if cfg.Library.TotalCapacity <= 0 {
		cfg.Library.TotalCapacity = 400
	}

	if cfg.Auth.EmailDomain == "" {
		cfg.Auth.EmailDomain = "student.chula.ac.th"
	}
	cfg.Auth.EmailDomain = strings.TrimPrefix(cfg.Auth.EmailDomain, "@")
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if cfg.Auth.JWTSecret == "" {
		log.Printf("auth.jwt_secret is not set; using an insecure development secret")
		cfg.Auth.JWTSecret = "dev-secret"
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour

	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = DriverMemory
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres; got %q", cfg.Database.Driver)
	}

	if cfg.Hub.SendBuffer <= 0 {
		cfg.Hub.SendBuffer = 64
	}
	if cfg.Hub.PingIntervalSeconds <= 0 {
		cfg.Hub.PingIntervalSeconds = 30
	}
	cfg.Hub.PingInterval = time.Duration(cfg.Hub.PingIntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.GateFeed.IntervalSeconds <= 0 {
		cfg.GateFeed.IntervalSeconds = 15
	}
	cfg.GateFeed.Interval = time.Duration(cfg.GateFeed.IntervalSeconds) * time.Second
	if cfg.GateFeed.Request.PageSize <= 0 {
		cfg.GateFeed.Request.PageSize = 100
	}
	if cfg.GateFeed.Timezone == "" {
		cfg.GateFeed.Timezone = "Asia/Bangkok"
	}

	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = "@every 5m"
	}
	return nil
}
