package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"voicerooms/pkg/tracing"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	// Gateway is the websocket bridge voice-state updates arrive on.
	Gateway struct {
		Enabled             bool          `yaml:"enabled"`
		Path                string        `yaml:"path"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`
	} `yaml:"gateway"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	// Backup snapshots the database into Directory on an interval.
	Backup struct {
		Enabled   bool          `yaml:"enabled"`
		Directory string        `yaml:"directory"`
		Interval  time.Duration `yaml:"interval"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"backup"`

	Redis struct {
		Enabled       bool   `yaml:"enabled"`
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		PoolSize      int    `yaml:"pool_size"`
		KeyPrefix     string `yaml:"key_prefix"`
		EventsChannel string `yaml:"events_channel"`
	} `yaml:"redis"`

	Rooms struct {
		DefaultCooldownSeconds int           `yaml:"default_cooldown_seconds"`
		StartupCleanupMode     string        `yaml:"startup_cleanup_mode"`
		CleanupDelay           time.Duration `yaml:"cleanup_delay"`
		SweepInterval          time.Duration `yaml:"sweep_interval"`
		CooldownRetention      time.Duration `yaml:"cooldown_retention"`
		SettingsCacheTTL       time.Duration `yaml:"settings_cache_ttl"`
	} `yaml:"rooms"`

	Guard struct {
		MarkerTTL   time.Duration `yaml:"marker_ttl"`
		LockTTL     time.Duration `yaml:"lock_ttl"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
	} `yaml:"guard"`

	Platform struct {
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
		CallTimeout       time.Duration `yaml:"call_timeout"`
		Retry             struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		CircuitBreaker struct {
			FailureThreshold    int           `yaml:"failure_threshold"`
			SuccessThreshold    int           `yaml:"success_threshold"`
			OpenTimeout         time.Duration `yaml:"open_timeout"`
			MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
		} `yaml:"circuit_breaker"`
	} `yaml:"platform"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsPath       string        `yaml:"metrics_path"`
		HealthInterval    time.Duration `yaml:"health_interval"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		Enabled        bool     `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		Issuer         string        `yaml:"issuer"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Gateway.Enabled {
		if c.Gateway.Path == "" {
			return fmt.Errorf("gateway.path must not be empty when gateway.enabled=true")
		}
		if c.Gateway.PingInterval <= 0 || c.Gateway.PongTimeout <= c.Gateway.PingInterval {
			return fmt.Errorf("gateway.pong_timeout must be greater than gateway.ping_interval > 0")
		}
		if c.Gateway.MessagesPerSecond <= 0 || c.Gateway.Burst <= 0 {
			return fmt.Errorf("gateway.messages_per_second and gateway.burst must be > 0")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 || c.Backup.Retention < 0 {
			return fmt.Errorf("backup.interval must be > 0 and backup.retention >= 0")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Rooms.DefaultCooldownSeconds < 0 {
		return fmt.Errorf("rooms.default_cooldown_seconds must be >= 0")
	}
	switch c.Rooms.StartupCleanupMode {
	case "immediate", "delayed":
	default:
		return fmt.Errorf("rooms.startup_cleanup_mode must be immediate or delayed, got %q", c.Rooms.StartupCleanupMode)
	}
	if c.Rooms.CleanupDelay <= 0 {
		return fmt.Errorf("rooms.cleanup_delay must be > 0")
	}
	if c.Rooms.SweepInterval <= 0 {
		return fmt.Errorf("rooms.sweep_interval must be > 0")
	}
	if c.Rooms.CooldownRetention <= 0 {
		return fmt.Errorf("rooms.cooldown_retention must be > 0")
	}

	if c.Guard.MarkerTTL <= 0 || c.Guard.LockTTL <= 0 {
		return fmt.Errorf("guard.marker_ttl and guard.lock_ttl must be > 0")
	}

	if c.Platform.RequestsPerSecond <= 0 || c.Platform.Burst <= 0 {
		return fmt.Errorf("platform.requests_per_second and platform.burst must be > 0")
	}
	if c.Platform.CallTimeout <= 0 {
		return fmt.Errorf("platform.call_timeout must be > 0")
	}
	if c.Platform.Retry.MaxAttempts < 0 {
		return fmt.Errorf("platform.retry.max_attempts must be >= 0")
	}
	if c.Platform.CircuitBreaker.FailureThreshold <= 0 || c.Platform.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("platform.circuit_breaker thresholds must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters when auth.enabled=true")
	}

	if c.RateLimiting.Enabled && (c.RateLimiting.RequestsPerSecond <= 0 || c.RateLimiting.Burst <= 0) {
		return fmt.Errorf("rate_limiting.requests_per_second and rate_limiting.burst must be > 0 when enabled")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 20 * time.Second

	cfg.Gateway.Enabled = true
	cfg.Gateway.Path = "/gateway"
	cfg.Gateway.PingInterval = 30 * time.Second
	cfg.Gateway.PongTimeout = 60 * time.Second
	cfg.Gateway.MaxMessageSizeBytes = 16 * 1024
	cfg.Gateway.MessagesPerSecond = 200
	cfg.Gateway.Burst = 400

	cfg.Database.Path = "voicerooms.db"

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "backups"
	cfg.Backup.Interval = 6 * time.Hour
	cfg.Backup.Retention = 7 * 24 * time.Hour

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "voicerooms:"
	cfg.Redis.EventsChannel = "voicerooms:events"

	cfg.Rooms.DefaultCooldownSeconds = 30
	cfg.Rooms.StartupCleanupMode = "delayed"
	cfg.Rooms.CleanupDelay = 10 * time.Second
	cfg.Rooms.SweepInterval = 5 * time.Minute
	cfg.Rooms.CooldownRetention = 24 * time.Hour
	cfg.Rooms.SettingsCacheTTL = time.Minute

	cfg.Guard.MarkerTTL = 30 * time.Second
	cfg.Guard.LockTTL = 30 * time.Second
	cfg.Guard.LockTimeout = 45 * time.Second

	cfg.Platform.RequestsPerSecond = 10
	cfg.Platform.Burst = 20
	cfg.Platform.CallTimeout = 10 * time.Second
	cfg.Platform.Retry.MaxAttempts = 2
	cfg.Platform.Retry.InitialDelay = 250 * time.Millisecond
	cfg.Platform.Retry.MaxDelay = 2 * time.Second
	cfg.Platform.CircuitBreaker.FailureThreshold = 5
	cfg.Platform.CircuitBreaker.SuccessThreshold = 2
	cfg.Platform.CircuitBreaker.OpenTimeout = 30 * time.Second
	cfg.Platform.CircuitBreaker.MaxRequestsHalfOpen = 3

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"
	cfg.Monitoring.HealthInterval = 30 * time.Second

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.Enabled = false
	cfg.Auth.Issuer = "voicerooms"
	cfg.Auth.TokenTTL = 12 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VOICEROOMS_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("VOICEROOMS_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("VOICEROOMS_BACKUP_DIR"); v != "" {
		c.Backup.Directory = v
		c.Backup.Enabled = true
	}
	if v := os.Getenv("VOICEROOMS_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("VOICEROOMS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("VOICEROOMS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VOICEROOMS_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
		c.Auth.Enabled = true
	}
	if v := os.Getenv("VOICEROOMS_DEFAULT_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Rooms.DefaultCooldownSeconds = n
		}
	}
	if v := os.Getenv("VOICEROOMS_STARTUP_CLEANUP_MODE"); v != "" {
		c.Rooms.StartupCleanupMode = v
	}
}
