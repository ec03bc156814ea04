// Package config loads fetchcache settings from defaults, an optional YAML
// file and FETCHCACHE_* environment variables, and turns them into the
// stores, policies and observers the other packages consume.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/fetchcache/cache"
	"github.com/jonwraymond/fetchcache/fetch"
	"github.com/jonwraymond/fetchcache/observe"
	"github.com/jonwraymond/fetchcache/resilience"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FETCHCACHE_"

// ServiceName names the log file and the telemetry resource.
const ServiceName = "fetchcache"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds every recognized setting.
type Config struct {
	CacheRoot     string        `yaml:"cache_root" env:"ROOT"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	CompressAbove int           `yaml:"compress_above" env:"COMPRESS_ABOVE"`

	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay      time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay       time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Jitter         bool          `yaml:"jitter" env:"JITTER"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"RATE_BURST"`

	LogLevel        string  `yaml:"log_level" env:"LOG_LEVEL"`
	LogDir          string  `yaml:"log_dir" env:"LOG_DIR"`
	TracingExporter string  `yaml:"tracing_exporter" env:"TRACING_EXPORTER"`
	SamplePct       float64 `yaml:"sample_pct" env:"SAMPLE_PCT"`
	MetricsExporter string  `yaml:"metrics_exporter" env:"METRICS_EXPORTER"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		CacheRoot:       cache.DefaultRoot,
		TTL:             cache.DefaultTTL,
		CompressAbove:   cache.DefaultCompressAbove,
		MaxAttempts:     resilience.DefaultMaxAttempts,
		BaseDelay:       resilience.DefaultBaseDelay,
		RateBurst:       1,
		LogLevel:        "info",
		TracingExporter: "none",
		SamplePct:       1.0,
		MetricsExporter: "none",
	}
}

// Load applies, in order, the defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates the result.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path, lookupIn(environ)); err != nil {
			return Config{}, err
		}
	}

	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: environment: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. $VAR and ${VAR} references in
// the file are expanded first.
func (c *Config) mergeFile(path string, lookup func(string) (string, bool)) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}

	// #nosec G304 -- the config path is chosen by the operator.
	data, err := os.ReadFile(expanded)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", expanded, err)
	}
	text, err := expandStrict(string(data), lookup)
	if err != nil {
		return fmt.Errorf("%s: %w", expanded, err)
	}
	if err := yaml.Unmarshal([]byte(text), c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, expanded, err)
	}
	return nil
}

// Normalize expands a leading ~ in CacheRoot and LogDir and validates the
// result. Call it again after overriding fields from flags.
func (c *Config) Normalize() error {
	for _, p := range []*string{&c.CacheRoot, &c.LogDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, *p, err)
		}
		*p = expanded
	}
	return c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.CacheRoot == "":
		return fmt.Errorf("%w: cache root is empty", ErrInvalidConfig)
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.TTL)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	case c.BaseDelay < 0, c.MaxDelay < 0, c.AttemptTimeout < 0:
		return fmt.Errorf("%w: delays and timeouts must not be negative", ErrInvalidConfig)
	case c.RateLimit < 0 || c.RateBurst < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}

	obsCfg := c.ObserveConfig()
	if err := obsCfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// TTLHours returns the TTL in hours.
func (c Config) TTLHours() float64 { return c.TTL.Hours() }

// RetryPolicy returns the retry policy described by the config.
func (c Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
		IsTransient: resilience.IsTransient,
	}
}

// RateLimiter returns a waiting limiter, or nil when RateLimit is zero.
func (c Config) RateLimiter() *resilience.RateLimiter {
	if c.RateLimit <= 0 {
		return nil
	}
	return resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Rate:        c.RateLimit,
		Burst:       c.RateBurst,
		WaitOnLimit: true,
	})
}

// ObserveConfig returns the observer settings. Logging is always enabled.
func (c Config) ObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: ServiceName,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "" && c.TracingExporter != "none",
			Exporter:  c.TracingExporter,
			SamplePct: c.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsExporter != "" && c.MetricsExporter != "none",
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
			Dir:     c.LogDir,
		},
	}
}

// NewObserver builds the observer described by the config.
func (c Config) NewObserver(ctx context.Context) (observe.Observer, error) {
	return observe.NewObserver(ctx, c.ObserveConfig())
}

// OpenStore opens the disk store under CacheRoot, reporting to obs.
func (c Config) OpenStore(obs observe.Observer) (*cache.DiskStore, error) {
	return cache.NewDiskStore(c.CacheRoot, c.TTL,
		cache.WithLogger(obs.Logger()),
		cache.WithMeter(obs.Meter()),
		cache.WithCompressAbove(c.CompressAbove),
	)
}

// NewFetcher builds a Fetcher over store using the retry, rate and timeout
// settings, reporting to obs.
func (c Config) NewFetcher(store cache.Store, obs observe.Observer) (*fetch.Fetcher, error) {
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("config: build middleware: %w", err)
	}

	logger := obs.Logger()
	opts := []fetch.Option{
		fetch.WithLogger(logger),
		fetch.WithPolicy(c.RetryPolicy()),
		fetch.WithExecutor(resilience.NewExecutor(
			resilience.WithLogger(logger),
			resilience.WithMeter(obs.Meter()),
		)),
		fetch.WithMiddleware(mw),
		fetch.WithAttemptTimeout(c.AttemptTimeout),
	}
	if rl := c.RateLimiter(); rl != nil {
		opts = append(opts, fetch.WithRateLimiter(rl))
	}
	return fetch.New(store, opts...), nil
}
