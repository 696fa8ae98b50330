// Package config loads pipeline configuration from file, environment,
// and flags, in that order of increasing precedence. The loaded Config
// is immutable; components receive the values they need at construction
// and never read configuration at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudsentry/cloudsentry/pkg/defaults"
)

// Config holds all pipeline settings.
type Config struct {
	// Scan selection
	Provider  string   `mapstructure:"provider"`
	Account   string   `mapstructure:"account"`
	Services  []string `mapstructure:"services"`
	CheckIDs  []string `mapstructure:"check_ids"`
	Severity  string   `mapstructure:"severity"`
	Category  string   `mapstructure:"category"`
	Framework string   `mapstructure:"framework"`

	// Catalog
	ManifestDir string `mapstructure:"manifest_dir"`

	// Execution
	Workers     int           `mapstructure:"workers"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	Retries     int           `mapstructure:"retries"`
	ScanTimeout time.Duration `mapstructure:"scan_timeout"`

	// Policy
	MaxErrorRatio float64 `mapstructure:"max_error_ratio"`

	// Mute rules
	MuteFile       string `mapstructure:"mute_file"`
	MutePrecedence string `mapstructure:"mute_precedence"`

	// Persistence
	StorePath string `mapstructure:"store_path"`
	BatchSize int    `mapstructure:"batch_size"`

	// Upload
	UploadURL   string `mapstructure:"upload_url"`
	UploadToken string `mapstructure:"upload_token"`

	// Observability
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`

	// Output
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	NoColor  bool   `mapstructure:"no_color"`
}

// Load reads configuration from the given file (optional), environment
// variables prefixed CLOUDSENTRY_, and built-in defaults.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("manifest_dir", "checks")
	v.SetDefault("workers", defaults.WorkersPerService)
	v.SetDefault("rate_limit", defaults.ServiceRateLimit)
	v.SetDefault("rate_burst", defaults.ServiceRateBurst)
	v.SetDefault("retries", defaults.RetryAttempts)
	v.SetDefault("scan_timeout", defaults.ScanTimeout)
	v.SetDefault("max_error_ratio", defaults.MaxErrorRatio)
	v.SetDefault("mute_precedence", "first-match")
	v.SetDefault("store_path", ".cloudsentry")
	v.SetDefault("batch_size", defaults.FindingsBatchSize)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("CLOUDSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could honor.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must be >= 0, got %d", c.RateLimit)
	}
	if c.MaxErrorRatio < 0 || c.MaxErrorRatio > 1 {
		return fmt.Errorf("config: max_error_ratio must be in [0,1], got %g", c.MaxErrorRatio)
	}
	switch c.MutePrecedence {
	case "", "first-match", "most-specific":
	default:
		return fmt.Errorf("config: mute_precedence must be first-match or most-specific, got %q", c.MutePrecedence)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}
