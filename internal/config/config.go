package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultLogLevel       = "info"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	LogLevel             string

	// DefaultsFile holds the compiled-in config layer; empty means no defaults.
	DefaultsFile string
	// RemoteConfigURL, when set, is polled for override documents.
	RemoteConfigURL string
	// RemoteConfigFile, when set, is read (and optionally watched) for override documents.
	RemoteConfigFile string
	SyncInterval     time.Duration
	WatchConfigFile  bool

	// ContentBaseURL is where flow definitions are fetched from. Empty serves no flows.
	ContentBaseURL string
	FetchTimeout   time.Duration
	FetchRPS       float64
	FetchBurst     int
	HandleTTL      time.Duration

	// BreakerFailures consecutive network failures open the fetch circuit; 0 disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string         `yaml:"port"`
	ShutdownGracePeriod  string         `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string         `yaml:"read_header_timeout"`
	WriteTimeout         string         `yaml:"write_timeout"`
	IdleTimeout          string         `yaml:"idle_timeout"`
	EnableRequestLogging *bool          `yaml:"enable_request_logging"`
	LogLevel             string         `yaml:"log_level"`
	RateLimit            yamlRateLimit  `yaml:"rate_limit"`
	RemoteConfig         yamlRemote     `yaml:"remote_config"`
	RemoteContent        yamlContentCfg `yaml:"remote_content"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlRemote struct {
	DefaultsFile string `yaml:"defaults_file"`
	URL          string `yaml:"url"`
	File         string `yaml:"file"`
	SyncInterval string `yaml:"sync_interval"`
	Watch        *bool  `yaml:"watch"`
}

type yamlContentCfg struct {
	BaseURL      string   `yaml:"base_url"`
	FetchTimeout string   `yaml:"fetch_timeout"`
	RPS          *float64 `yaml:"rps"`
	Burst        *int     `yaml:"burst"`
	HandleTTL    string   `yaml:"handle_ttl"`
	Breaker      struct {
		Failures *uint32 `yaml:"failures"`
		Cooldown string  `yaml:"cooldown"`
	} `yaml:"breaker"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile      string
	Port            *string
	LogLevel        *string
	RateLimitRPS    *float64
	RateLimitBurst  *int
	DefaultsFile    *string
	RemoteConfigURL *string
	RemoteFile      *string
	ContentBaseURL  *string
	SyncInterval    *time.Duration
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables
	applyEnvConfig(&cfg)

	// Load from YAML file if specified (overrides env)
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             defaultLogLevel,
		SyncInterval:         5 * time.Minute,
		FetchTimeout:         15 * time.Second,
		FetchRPS:             10,
		FetchBurst:           20,
		HandleTTL:            30 * time.Minute,
		BreakerFailures:      5,
		BreakerCooldown:      30 * time.Second,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, y *yamlConfig) error {
	if y.Port != "" {
		cfg.Port = y.Port
	}
	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}
	if y.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *y.EnableRequestLogging
	}
	if y.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *y.RateLimit.RPS
	}
	if y.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *y.RateLimit.Burst
	}

	if y.RemoteConfig.DefaultsFile != "" {
		cfg.DefaultsFile = y.RemoteConfig.DefaultsFile
	}
	if y.RemoteConfig.URL != "" {
		cfg.RemoteConfigURL = y.RemoteConfig.URL
	}
	if y.RemoteConfig.File != "" {
		cfg.RemoteConfigFile = y.RemoteConfig.File
	}
	if y.RemoteConfig.Watch != nil {
		cfg.WatchConfigFile = *y.RemoteConfig.Watch
	}

	if y.RemoteContent.BaseURL != "" {
		cfg.ContentBaseURL = y.RemoteContent.BaseURL
	}
	if y.RemoteContent.RPS != nil {
		cfg.FetchRPS = *y.RemoteContent.RPS
	}
	if y.RemoteContent.Burst != nil {
		cfg.FetchBurst = *y.RemoteContent.Burst
	}
	if y.RemoteContent.Breaker.Failures != nil {
		cfg.BreakerFailures = *y.RemoteContent.Breaker.Failures
	}

	durations := []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{y.ShutdownGracePeriod, &cfg.ShutdownGracePeriod, "shutdown_grace_period"},
		{y.ReadHeaderTimeout, &cfg.ReadHeaderTimeout, "read_header_timeout"},
		{y.WriteTimeout, &cfg.WriteTimeout, "write_timeout"},
		{y.IdleTimeout, &cfg.IdleTimeout, "idle_timeout"},
		{y.RemoteConfig.SyncInterval, &cfg.SyncInterval, "remote_config.sync_interval"},
		{y.RemoteContent.FetchTimeout, &cfg.FetchTimeout, "remote_content.fetch_timeout"},
		{y.RemoteContent.HandleTTL, &cfg.HandleTTL, "remote_content.handle_ttl"},
		{y.RemoteContent.Breaker.Cooldown, &cfg.BreakerCooldown, "remote_content.breaker.cooldown"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dest = parsed
	}

	return nil
}

// applyEnvConfig applies environment variable configuration. Malformed
// values are ignored.
func applyEnvConfig(cfg *Config) {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}
	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if v := env("CONFIG_DEFAULTS_FILE"); v != "" {
		cfg.DefaultsFile = v
	}
	if v := env("REMOTE_CONFIG_URL"); v != "" {
		cfg.RemoteConfigURL = v
	}
	if v := env("REMOTE_CONFIG_FILE"); v != "" {
		cfg.RemoteConfigFile = v
	}
	if v := env("REMOTE_CONFIG_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WatchConfigFile = b
		}
	}
	if v := env("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.SyncInterval = d
		}
	}
	if v := env("CONTENT_BASE_URL"); v != "" {
		cfg.ContentBaseURL = v
	}
	if v := env("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.FetchTimeout = d
		}
	}
	if v := env("FETCH_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.BreakerFailures = uint32(n)
		}
	}
	if v := env("HANDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HandleTTL = d
		}
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
	if overrides.DefaultsFile != nil && *overrides.DefaultsFile != "" {
		cfg.DefaultsFile = *overrides.DefaultsFile
	}
	if overrides.RemoteConfigURL != nil && *overrides.RemoteConfigURL != "" {
		cfg.RemoteConfigURL = *overrides.RemoteConfigURL
	}
	if overrides.RemoteFile != nil && *overrides.RemoteFile != "" {
		cfg.RemoteConfigFile = *overrides.RemoteFile
	}
	if overrides.ContentBaseURL != nil && *overrides.ContentBaseURL != "" {
		cfg.ContentBaseURL = *overrides.ContentBaseURL
	}
	if overrides.SyncInterval != nil && *overrides.SyncInterval >= 0 {
		cfg.SyncInterval = *overrides.SyncInterval
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.RemoteConfigURL != "" && cfg.RemoteConfigFile != "" {
		return fmt.Errorf("remote config URL and file are mutually exclusive")
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if cfg.HandleTTL <= 0 {
		return fmt.Errorf("handle TTL must be positive")
	}
	if cfg.HandleTTL <= cfg.FetchTimeout {
		return fmt.Errorf("handle TTL (%s) must exceed fetch timeout (%s)", cfg.HandleTTL, cfg.FetchTimeout)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", cfg.LogLevel)
	}
	return nil
}
