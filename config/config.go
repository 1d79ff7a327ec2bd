// Package config provides configuration loading and management for PropScout.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/propscout/cache"
	"gopkg.in/yaml.v3"
)

// Cache backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Config represents the complete PropScout configuration
type Config struct {
	Providers     ProvidersConfig     `yaml:"providers"`
	PropertyScout PropertyScoutConfig `yaml:"propertyscout"`
	Cache         CacheConfig         `yaml:"cache"`
	Quota         cache.Quota         `yaml:"quota"`
	Assembler     AssemblerConfig     `yaml:"assembler"`
	NATS          NATSConfig          `yaml:"nats"`
	Server        ServerConfig        `yaml:"server"`
}

// ProvidersConfig configures the upstream HTTP endpoints
type ProvidersConfig struct {
	GeoSearchURL     string `yaml:"geosearch_url"`
	SocrataURL       string `yaml:"socrata_url"`
	PropertyScoutURL string `yaml:"propertyscout_url"`
	// RequestTimeout bounds each HTTP attempt (default: 8s)
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxAttempts includes the first try (default: 3)
	MaxAttempts int `yaml:"max_attempts"`
}

// PropertyScoutConfig holds the fallback credential. A key saved at runtime
// takes precedence.
type PropertyScoutConfig struct {
	APIKey string `yaml:"api_key"`
}

// CacheConfig selects and tunes the cache backend
type CacheConfig struct {
	// Backend is memory, sqlite or nats
	Backend string `yaml:"backend"`
	// Path is the SQLite database file
	Path string `yaml:"path"`
	// Bucket is the JetStream key-value bucket
	Bucket string        `yaml:"bucket"`
	TTL    time.Duration `yaml:"ttl"`
	// MaxBytes bounds the memory backend and the NATS bucket (0 = unbounded)
	MaxBytes int64 `yaml:"max_bytes"`
	// MaxPages bounds the SQLite file in pages (0 = unbounded)
	MaxPages          int `yaml:"max_pages"`
	CompressThreshold int `yaml:"compress_threshold"`
}

// AssemblerConfig tunes report assembly
type AssemblerConfig struct {
	// Deadline is shared by all sub-fetches of one report (default: 12s)
	Deadline time.Duration `yaml:"deadline"`
	// SkipFloodZone disables the flood hazard lookup
	SkipFloodZone bool `yaml:"skip_flood_zone"`
}

// NATSConfig configures the NATS connection used by the nats cache backend
type NATSConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			GeoSearchURL:     "https://geosearch.planninglabs.nyc",
			SocrataURL:       "https://data.cityofnewyork.us/resource",
			PropertyScoutURL: "https://api.propertyscout.io/v1",
			RequestTimeout:   8 * time.Second,
			MaxAttempts:      3,
		},
		Cache: CacheConfig{
			Backend:           BackendSQLite,
			Path:              defaultCachePath(),
			Bucket:            cache.DefaultBucket,
			TTL:               cache.DefaultTTL,
			CompressThreshold: cache.DefaultCompressThreshold,
		},
		Assembler: AssemblerConfig{
			Deadline: 12 * time.Second,
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "propscout-cache.db"
	}
	return filepath.Join(dir, "propscout", "cache.db")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"providers.geosearch_url":     c.Providers.GeoSearchURL,
		"providers.socrata_url":       c.Providers.SocrataURL,
		"providers.propertyscout_url": c.Providers.PropertyScoutURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Providers.RequestTimeout <= 0 {
		return fmt.Errorf("providers.request_timeout must be positive")
	}
	if c.Providers.MaxAttempts < 1 {
		return fmt.Errorf("providers.max_attempts must be at least 1")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the sqlite backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory, sqlite or nats, got %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.MaxBytes < 0 || c.Cache.MaxPages < 0 {
		return fmt.Errorf("cache limits must not be negative")
	}

	if c.Quota.MonthlyLimit < 0 {
		return fmt.Errorf("quota.monthly_limit must not be negative")
	}
	for endpoint, n := range c.Quota.Limits {
		if _, err := cache.ParseType(endpoint); err != nil {
			return fmt.Errorf("quota.endpoints: %w", err)
		}
		if n < 0 {
			return fmt.Errorf("quota.endpoints.%s must not be negative", endpoint)
		}
	}

	if c.Assembler.Deadline <= 0 {
		return fmt.Errorf("assembler.deadline must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may carry an API key.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Providers
	if other.Providers.GeoSearchURL != "" {
		c.Providers.GeoSearchURL = other.Providers.GeoSearchURL
	}
	if other.Providers.SocrataURL != "" {
		c.Providers.SocrataURL = other.Providers.SocrataURL
	}
	if other.Providers.PropertyScoutURL != "" {
		c.Providers.PropertyScoutURL = other.Providers.PropertyScoutURL
	}
	if other.Providers.RequestTimeout != 0 {
		c.Providers.RequestTimeout = other.Providers.RequestTimeout
	}
	if other.Providers.MaxAttempts != 0 {
		c.Providers.MaxAttempts = other.Providers.MaxAttempts
	}

	if other.PropertyScout.APIKey != "" {
		c.PropertyScout.APIKey = other.PropertyScout.APIKey
	}

	// Cache
	if other.Cache.Backend != "" {
		c.Cache.Backend = other.Cache.Backend
	}
	if other.Cache.Path != "" {
		c.Cache.Path = other.Cache.Path
	}
	if other.Cache.Bucket != "" {
		c.Cache.Bucket = other.Cache.Bucket
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.MaxBytes != 0 {
		c.Cache.MaxBytes = other.Cache.MaxBytes
	}
	if other.Cache.MaxPages != 0 {
		c.Cache.MaxPages = other.Cache.MaxPages
	}
	if other.Cache.CompressThreshold != 0 {
		c.Cache.CompressThreshold = other.Cache.CompressThreshold
	}

	// Quota
	if other.Quota.MonthlyLimit != 0 {
		c.Quota.MonthlyLimit = other.Quota.MonthlyLimit
	}
	if len(other.Quota.Limits) > 0 {
		limits := make(map[string]int, len(c.Quota.Limits)+len(other.Quota.Limits))
		for k, v := range c.Quota.Limits {
			limits[k] = v
		}
		for k, v := range other.Quota.Limits {
			limits[k] = v
		}
		c.Quota.Limits = limits
	}

	// Assembler
	if other.Assembler.Deadline != 0 {
		c.Assembler.Deadline = other.Assembler.Deadline
	}
	if other.Assembler.SkipFloodZone {
		c.Assembler.SkipFloodZone = true
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
}
