package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	cacheerr "github.com/awscache/awscache/pkg/errors"
)

// Configuration is the complete cache configuration. It is constructed once
// at startup and passed explicitly to every component constructor; no
// component reads ambient environment state on its own.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Resident   ResidentConfig   `yaml:"resident"`
	Persistent PersistentConfig `yaml:"persistent"`
	Warming    WarmingConfig    `yaml:"warming"`
	Alerts     AlertThresholds  `yaml:"alerts"`
	Server     ServerConfig     `yaml:"server"`
}

// GlobalConfig holds settings shared across components.
type GlobalConfig struct {
	LogLevel   string        `yaml:"log_level"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// Profile and Region are the ambient AWS defaults applied when a
	// request omits them. Resolved once via ResolveAWSDefaults.
	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`
}

// ResidentConfig configures the in-memory tier.
type ResidentConfig struct {
	// Capacity is the maximum number of entries held resident.
	Capacity int `yaml:"capacity"`
}

// PersistentConfig configures the on-disk tier.
type PersistentConfig struct {
	Directory string `yaml:"directory"`
	// MaxBytes bounds total disk usage; 0 disables the bound.
	MaxBytes int64 `yaml:"max_bytes"`
}

// WarmingConfig configures the predictive warming scheduler.
type WarmingConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	MaxConcurrentWorkers int           `yaml:"max_concurrent_workers"`
	JobTimeout           time.Duration `yaml:"job_timeout"`
	MaxRetries           int           `yaml:"max_retries"`
	JobRetention         time.Duration `yaml:"job_retention"`
	// MinFrequency is the floor below which a key is never a warming
	// candidate.
	MinFrequency int `yaml:"min_frequency"`
	// MinPriority bounds job volume: candidates below it are dropped
	// during planning ("low", "medium", "high").
	MinPriority string `yaml:"min_priority"`
	// PeakHours are local hours (0-23) during which warming throttles
	// itself to stay out of foreground traffic's way.
	PeakHours []int `yaml:"peak_hours"`
	// UsageLogSize bounds the usage event log.
	UsageLogSize int `yaml:"usage_log_size"`
}

// AlertThresholds configures metrics alert evaluation.
type AlertThresholds struct {
	MaxMissRate     float64       `yaml:"max_miss_rate"`
	MaxResponseTime time.Duration `yaml:"max_response_time"`
	MinHitRate      float64       `yaml:"min_hit_rate"`
}

// ServerConfig configures the resident-service surface.
type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	// SocketPath is the unix socket short-lived CLI invocations connect to.
	SocketPath string `yaml:"socket_path"`
	// MetricsAddress serves the Prometheus endpoint when non-empty.
	MetricsAddress string        `yaml:"metrics_address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	home, _ := os.UserHomeDir()
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:   "info",
			DefaultTTL: 15 * time.Minute,
		},
		Resident: ResidentConfig{
			Capacity: 1000,
		},
		Persistent: PersistentConfig{
			Directory: filepath.Join(home, ".cache", "awscache"),
			MaxBytes:  1 << 30, // 1GB
		},
		Warming: WarmingConfig{
			Enabled:              true,
			Interval:             5 * time.Minute,
			MaxConcurrentWorkers: 3,
			JobTimeout:           30 * time.Second,
			MaxRetries:           2,
			JobRetention:         time.Hour,
			MinFrequency:         2,
			MinPriority:          "medium",
			PeakHours:            []int{9, 10, 11, 14, 15, 16},
			UsageLogSize:         10000,
		},
		Alerts: AlertThresholds{
			MaxMissRate:     0.7,
			MaxResponseTime: 2 * time.Second,
			MinHitRate:      0.2,
		},
		Server: ServerConfig{
			Enabled:      false,
			SocketPath:   filepath.Join(os.TempDir(), "awscache.sock"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeConfigLoad, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeConfigLoad, "failed to parse config file", err)
	}
	return nil
}

// LoadFromEnv applies AWSCACHE_* environment overrides.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("AWSCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("AWSCACHE_DIR"); val != "" {
		c.Persistent.Directory = val
	}
	if val := os.Getenv("AWSCACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Global.DefaultTTL = d
		}
	}
	if val := os.Getenv("AWSCACHE_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Resident.Capacity = n
		}
	}
	if val := os.Getenv("AWSCACHE_WARMING"); val != "" {
		c.Warming.Enabled = strings.ToLower(val) == "true" || val == "1"
	}
	if val := os.Getenv("AWSCACHE_WARMING_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Warming.Interval = d
		}
	}
	if val := os.Getenv("AWSCACHE_WARMING_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Warming.MaxConcurrentWorkers = n
		}
	}
	if val := os.Getenv("AWSCACHE_SOCKET"); val != "" {
		c.Server.SocketPath = val
	}
}

// SaveToFile writes the configuration as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeConfigLoad, "failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeConfigLoad, "failed to create config directory", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeConfigLoad, "failed to write config file", err)
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Configuration) Validate() error {
	if c.Resident.Capacity <= 0 {
		return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "resident capacity must be greater than 0")
	}
	if c.Persistent.Directory == "" {
		return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "persistent directory must be set")
	}
	if c.Warming.Enabled {
		if c.Warming.Interval <= 0 {
			return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "warming interval must be greater than 0")
		}
		if c.Warming.MaxConcurrentWorkers <= 0 {
			return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "max_concurrent_workers must be greater than 0")
		}
		if c.Warming.JobTimeout <= 0 {
			return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "job_timeout must be greater than 0")
		}
		if c.Warming.MaxRetries < 0 {
			return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "max_retries must not be negative")
		}
		switch c.Warming.MinPriority {
		case "low", "medium", "high":
		default:
			return cacheerr.Newf(cacheerr.ErrCodeInvalidConfig,
				"invalid min_priority: %s (must be one of: low, medium, high)", c.Warming.MinPriority)
		}
		for _, h := range c.Warming.PeakHours {
			if h < 0 || h > 23 {
				return cacheerr.Newf(cacheerr.ErrCodeInvalidConfig, "invalid peak hour: %d", h)
			}
		}
	}
	if c.Alerts.MaxMissRate < 0 || c.Alerts.MaxMissRate > 1 {
		return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "max_miss_rate must be within [0,1]")
	}
	if c.Alerts.MinHitRate < 0 || c.Alerts.MinHitRate > 1 {
		return cacheerr.New(cacheerr.ErrCodeInvalidConfig, "min_hit_rate must be within [0,1]")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			valid = true
			break
		}
	}
	if !valid {
		return cacheerr.Newf(cacheerr.ErrCodeInvalidConfig,
			"invalid log_level: %s (must be one of: %s)", c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
