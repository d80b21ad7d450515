package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Port                int      `yaml:"port"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		AllowedOrigins      []string `yaml:"allowed_origins"`
		RateLimitRPS        float64  `yaml:"rate_limit_rps"`
		RateLimitBurst      int      `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Realtime struct {
		// Transport is "redis", "amqp" or empty for in-process only.
		Transport      string `yaml:"transport"`
		AMQPURL        string `yaml:"amqp_url"`
		Channel        string `yaml:"channel"`
		DebounceMillis int    `yaml:"debounce_millis"`
	} `yaml:"realtime"`

	Functions struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxRetries     int    `yaml:"max_retries"`
	} `yaml:"functions"`

	Telegram struct {
		BotToken    string `yaml:"bot_token"`
		AdminChatID int64  `yaml:"admin_chat_id"`
	} `yaml:"telegram"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		GracePeriodMinutes   int    `yaml:"grace_period_minutes"`
		NoShowSweepSchedule  string `yaml:"no_show_sweep_schedule"`
		AvailabilityCacheTTL int    `yaml:"availability_cache_ttl_seconds"`
		MaxAdvanceDays       int    `yaml:"max_advance_days"`
	} `yaml:"booking"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"`
		ExportDir     string `yaml:"export_dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"audit"`

	BusinessesPath string `yaml:"businesses_path"`
}

// BackupConfig controls periodic database snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A .env file next to the working
// directory is loaded first so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/tablebook.db"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Realtime.Channel == "" {
		c.Realtime.Channel = "tablebook.changes"
	}
	if c.Booking.NoShowSweepSchedule == "" {
		c.Booking.NoShowSweepSchedule = "@every 1m"
	}
	if c.Audit.Schedule == "" {
		c.Audit.Schedule = "0 1 1 * *"
	}
	if c.Audit.ExportDir == "" {
		c.Audit.ExportDir = "data/exports"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: invalid port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.Realtime.Transport {
	case "", "redis":
	case "amqp":
		if c.Realtime.AMQPURL == "" {
			return fmt.Errorf("realtime.amqp_url is required for amqp transport")
		}
	default:
		return fmt.Errorf("realtime.transport: unknown transport '%s'", c.Realtime.Transport)
	}
	if c.Realtime.Transport == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required for redis transport")
	}
	if c.Booking.GracePeriodMinutes < 0 {
		return fmt.Errorf("booking.grace_period_minutes cannot be negative")
	}
	return nil
}

func (c *Config) GracePeriod() time.Duration {
	if c.Booking.GracePeriodMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Booking.GracePeriodMinutes) * time.Minute
}

func (c *Config) AvailabilityCacheTTL() time.Duration {
	if c.Booking.AvailabilityCacheTTL <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Booking.AvailabilityCacheTTL) * time.Second
}

func (c *Config) BookingMaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) InvalidationDebounce() time.Duration {
	if c.Realtime.DebounceMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.Realtime.DebounceMillis) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

func (c *Config) FunctionsTimeout() time.Duration {
	if c.Functions.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Functions.TimeoutSeconds) * time.Second
}
