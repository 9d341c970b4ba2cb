package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version this build understands
const CurrentVersion = 1

// DirName is the per-project config directory
const DirName = ".bilregistret"

// EnvPrefix prefixes every environment override, e.g. BILREGISTRET_SOURCES_TS_APIKEY
const EnvPrefix = "BILREGISTRET"

// Config represents the complete bilregistret configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	Sources     SourcesConfig     `json:"sources" mapstructure:"sources"`
	QueryPolicy QueryPolicyConfig `json:"queryPolicy" mapstructure:"queryPolicy"`
	Cache       CacheConfig       `json:"cache" mapstructure:"cache"`
	Auth        AuthConfig        `json:"auth" mapstructure:"auth"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// SourcesConfig holds the two vehicle data sources
type SourcesConfig struct {
	CL SourceConfig `json:"cl" mapstructure:"cl"`
	TS SourceConfig `json:"ts" mapstructure:"ts"`
}

// SourceConfig describes one HTTP vehicle data source
type SourceConfig struct {
	BaseURL      string `json:"baseUrl" mapstructure:"baseUrl"`
	PathTemplate string `json:"pathTemplate" mapstructure:"pathTemplate"`
	APIKey       string `json:"apiKey" mapstructure:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader" mapstructure:"apiKeyHeader"`
}

// QueryPolicyConfig contains fetch policy per source
type QueryPolicyConfig struct {
	Coalesce             bool           `json:"coalesce" mapstructure:"coalesce"`
	MaxInFlightPerSource map[string]int `json:"maxInFlightPerSource" mapstructure:"maxInFlightPerSource"`
	TimeoutMs            map[string]int `json:"timeoutMs" mapstructure:"timeoutMs"`
	// NegativeTtlSeconds is keyed by error code (NOT_FOUND, NETWORK_FAILURE, ...)
	NegativeTtlSeconds map[string]int `json:"negativeTtlSeconds" mapstructure:"negativeTtlSeconds"`
}

// CacheCategoryConfig holds the TTLs of one cache category
type CacheCategoryConfig struct {
	FreshSeconds int `json:"freshSeconds" mapstructure:"freshSeconds"`
	GcSeconds    int `json:"gcSeconds" mapstructure:"gcSeconds"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Capacity              int                            `json:"capacity" mapstructure:"capacity"`
	MediumKeepPerCategory int                            `json:"mediumKeepPerCategory" mapstructure:"mediumKeepPerCategory"`
	SweepIntervalSeconds  int                            `json:"sweepIntervalSeconds" mapstructure:"sweepIntervalSeconds"`
	Categories            map[string]CacheCategoryConfig `json:"categories" mapstructure:"categories"`
	Persist               PersistConfig                  `json:"persist" mapstructure:"persist"`
}

// PersistConfig controls the sqlite warm tier
type PersistConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// AuthConfig contains session handling settings
type AuthConfig struct {
	LoginPath         string `json:"loginPath" mapstructure:"loginPath"`
	SessionTtlMinutes int    `json:"sessionTtlMinutes" mapstructure:"sessionTtlMinutes"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr        string          `json:"addr" mapstructure:"addr"`
	CorsOrigins []string        `json:"corsOrigins" mapstructure:"corsOrigins"`
	RateLimit   RateLimitConfig `json:"rateLimit" mapstructure:"rateLimit"`
}

// RateLimitConfig configures per-client request limits on lookup routes
type RateLimitConfig struct {
	Enabled         bool `json:"enabled" mapstructure:"enabled"`
	PerMinute       int  `json:"perMinute" mapstructure:"perMinute"`
	Burst           int  `json:"burst" mapstructure:"burst"`
	CleanupInterval int  `json:"cleanupIntervalSeconds" mapstructure:"cleanupIntervalSeconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Sources: SourcesConfig{
			CL: SourceConfig{
				PathTemplate: "/vehicles/{plate}",
				APIKeyHeader: "X-Api-Key",
			},
			TS: SourceConfig{
				PathTemplate: "/lookup/{plate}",
				APIKeyHeader: "X-Api-Key",
			},
		},
		QueryPolicy: QueryPolicyConfig{
			Coalesce: true,
			MaxInFlightPerSource: map[string]int{
				"cl": 8,
				"ts": 4,
			},
			TimeoutMs: map[string]int{
				"cl": 5000,
				"ts": 15000,
			},
			NegativeTtlSeconds: map[string]int{
				"NOT_FOUND":          600,
				"NETWORK_FAILURE":    15,
				"UNAUTHORIZED":       60,
				"MALFORMED_RESPONSE": 60,
				"TIMEOUT":            5,
			},
		},
		Cache: CacheConfig{
			Capacity:              2000,
			MediumKeepPerCategory: 20,
			SweepIntervalSeconds:  60,
			Categories: map[string]CacheCategoryConfig{
				"vehicle-data": {FreshSeconds: 300, GcSeconds: 600},
				"product-data": {FreshSeconds: 300, GcSeconds: 600},
				"car-metadata": {FreshSeconds: 1800, GcSeconds: 3600},
				"garage":       {FreshSeconds: 300, GcSeconds: 600},
				"other":        {FreshSeconds: 300, GcSeconds: 600},
			},
			Persist: PersistConfig{
				Enabled: false,
				Path:    filepath.Join(DirName, "cache.db"),
			},
		},
		Auth: AuthConfig{
			LoginPath:         "/login",
			SessionTtlMinutes: 720,
		},
		Server: ServerConfig{
			Addr:        "localhost:8080",
			CorsOrigins: []string{},
			RateLimit: RateLimitConfig{
				Enabled:         false,
				PerMinute:       120,
				Burst:           20,
				CleanupInterval: 300,
			},
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <root>/.bilregistret/config.json,
// layered over DefaultConfig and under BILREGISTRET_* environment variables.
// A missing file is not an error.
func LoadConfig(root string) (*Config, error) {
	return load(filepath.Join(root, DirName, "config.json"), false)
}

// LoadConfigFile loads configuration from an explicit file, which must exist.
func LoadConfigFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	defaults, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if _, statErr := os.Stat(path); statErr == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else if required {
		return nil, &ConfigError{Field: "file", Message: statErr.Error()}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <root>/.bilregistret/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}

	for name, ms := range c.QueryPolicy.TimeoutMs {
		if ms <= 0 {
			return &ConfigError{Field: "queryPolicy.timeoutMs." + name, Message: "must be positive"}
		}
	}
	for name, n := range c.QueryPolicy.MaxInFlightPerSource {
		if n <= 0 {
			return &ConfigError{Field: "queryPolicy.maxInFlightPerSource." + name, Message: "must be positive"}
		}
	}

	if c.Cache.Capacity <= 0 {
		return &ConfigError{Field: "cache.capacity", Message: "must be positive"}
	}
	if c.Cache.MediumKeepPerCategory < 0 {
		return &ConfigError{Field: "cache.mediumKeepPerCategory", Message: "must not be negative"}
	}
	for name, cat := range c.Cache.Categories {
		if cat.FreshSeconds <= 0 || cat.GcSeconds <= 0 {
			return &ConfigError{Field: "cache.categories." + name, Message: "ttls must be positive"}
		}
		if cat.FreshSeconds > cat.GcSeconds {
			return &ConfigError{Field: "cache.categories." + name, Message: "freshSeconds exceeds gcSeconds"}
		}
	}
	if c.Cache.Persist.Enabled && c.Cache.Persist.Path == "" {
		return &ConfigError{Field: "cache.persist.path", Message: "required when persistence is enabled"}
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.PerMinute <= 0 {
		return &ConfigError{Field: "server.rateLimit.perMinute", Message: "must be positive when rate limiting is enabled"}
	}

	switch c.Logging.Format {
	case "", "json", "human":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be json or human"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
