package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file is the base layer. Environment variables (optionally
// loaded from a .env file) are applied on top by ApplyEnv, so container
// deployments can run without a config file at all.

// BangumiConfig configures the upstream catalog client.
type BangumiConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`

	// RateLimit is the outbound request budget per second; 0 disables it.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `yaml:"burst" json:"burst"`

	// RetryAttempts counts the first try; 1 disables retries.
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// RedisConfig locates the Redis server. URL wins over the split fields.
type RedisConfig struct {
	URL      string `yaml:"url,omitempty" json:"url,omitempty"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	DB       int    `yaml:"db" json:"db"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

type TTLConfig struct {
	Calendar time.Duration `yaml:"calendar" json:"calendar"`
	Settled  time.Duration `yaml:"settled" json:"settled"`
	Open     time.Duration `yaml:"open" json:"open"`
	Missing  time.Duration `yaml:"missing" json:"missing"`
}

type CacheConfig struct {
	// Backend is "redis" (default) or "memory".
	Backend string      `yaml:"backend" json:"backend"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
	TTL     TTLConfig   `yaml:"ttl" json:"ttl"`
}

// PrefetchConfig rebuilds the listed users' feeds on a cron schedule.
// An empty Cron disables it.
type PrefetchConfig struct {
	Cron    string        `yaml:"cron" json:"cron"`
	Users   []string      `yaml:"users" json:"users"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BasicAuthConfig protects /metrics when both fields are set.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`
	// RequestLogging logs one line per HTTP request.
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
	// RequestTimeout bounds a single HTTP request, upstream calls included.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// MaxConcurrency bounds in-flight subject lookups per calendar build.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// Metrics exposes /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`

	Bangumi  BangumiConfig  `yaml:"bangumi" json:"bangumi"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch" json:"prefetch"`

	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "0.0.0.0:3000",
		LogLevel:       "info",
		LogFormat:      "console",
		RequestLogging: false,
		RequestTimeout: 60 * time.Second,
		MaxConcurrency: 20,
		Metrics:        true,
		Bangumi: BangumiConfig{
			BaseURL:       "https://api.bgm.tv",
			UserAgent:     "trim21/bangumi-episode-calendar",
			Timeout:       10 * time.Second,
			Burst:         1,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend: BackendRedis,
			Redis:   RedisConfig{Host: "127.0.0.1", Port: 6379},
			TTL: TTLConfig{
				Calendar: 23 * time.Hour,
				Settled:  7 * 24 * time.Hour,
				Open:     3 * 24 * time.Hour,
				Missing:  24 * time.Hour,
			},
		},
		Prefetch: PrefetchConfig{
			Users:   []string{},
			Timeout: 2 * time.Minute,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = d.LogFormat
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}

	b := &c.Bangumi
	b.BaseURL = strings.TrimSuffix(strings.TrimSpace(b.BaseURL), "/")
	if b.BaseURL == "" {
		b.BaseURL = d.Bangumi.BaseURL
	}
	if b.UserAgent == "" {
		b.UserAgent = d.Bangumi.UserAgent
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Bangumi.Timeout
	}
	if b.RateLimit < 0 {
		b.RateLimit = 0
	}
	if b.Burst <= 0 {
		b.Burst = d.Bangumi.Burst
	}
	if b.RetryAttempts <= 0 {
		b.RetryAttempts = d.Bangumi.RetryAttempts
	}
	if b.RetryDelay <= 0 {
		b.RetryDelay = d.Bangumi.RetryDelay
	}

	cc := &c.Cache
	cc.Backend = strings.ToLower(strings.TrimSpace(cc.Backend))
	switch cc.Backend {
	case BackendRedis, BackendMemory:
	default:
		cc.Backend = d.Cache.Backend
	}
	if cc.Redis.Host == "" {
		cc.Redis.Host = d.Cache.Redis.Host
	}
	if cc.Redis.Port <= 0 {
		cc.Redis.Port = d.Cache.Redis.Port
	}
	if cc.TTL.Calendar <= 0 {
		cc.TTL.Calendar = d.Cache.TTL.Calendar
	}
	if cc.TTL.Settled <= 0 {
		cc.TTL.Settled = d.Cache.TTL.Settled
	}
	if cc.TTL.Open <= 0 {
		cc.TTL.Open = d.Cache.TTL.Open
	}
	if cc.TTL.Missing <= 0 {
		cc.TTL.Missing = d.Cache.TTL.Missing
	}

	if c.Prefetch.Users == nil {
		c.Prefetch.Users = []string{}
	}
	if c.Prefetch.Timeout <= 0 {
		c.Prefetch.Timeout = d.Prefetch.Timeout
	}
	c.Prefetch.Cron = strings.TrimSpace(c.Prefetch.Cron)
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables looked up through
// lookup (os.LookupEnv in production). Empty and unparsable values are
// ignored. HOST and PORT replace the matching half of Listen; LISTEN
// replaces it entirely.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	host, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		host, port = "", ""
	}
	if v, ok := get("HOST"); ok {
		host = v
	}
	if v, ok := get("PORT"); ok {
		if _, err := strconv.Atoi(v); err == nil {
			port = v
		}
	}
	if port != "" {
		c.Listen = net.JoinHostPort(host, port)
	}
	if v, ok := get("LISTEN"); ok {
		c.Listen = v
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.LogFormat = strings.ToLower(v)
	}
	if v, ok := get("ENABLE_REQUEST_LOGGING"); ok {
		c.RequestLogging = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := get("MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConcurrency = n
		}
	}
	if v, ok := get("BANGUMI_BASE_URL"); ok {
		c.Bangumi.BaseURL = v
	}

	if v, ok := get("CACHE_BACKEND"); ok {
		c.Cache.Backend = v
	}
	if v, ok := get("REDIS_URL"); ok {
		c.Cache.Redis.URL = v
	}
	if v, ok := get("REDIS_HOST"); ok {
		c.Cache.Redis.Host = v
	}
	if v, ok := get("REDIS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.Redis.Port = n
		}
	}
	if v, ok := get("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.Redis.DB = n
		}
	}
	if v, ok := get("REDIS_USERNAME"); ok {
		c.Cache.Redis.Username = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}

	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML on top of the defaults
//   - normalize
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// BasicAuthEnabled reports whether both credentials are configured.
func (c *Config) BasicAuthEnabled() bool {
	return c != nil && c.BasicAuth != nil && c.BasicAuth.Username != "" && c.BasicAuth.Password != ""
}
