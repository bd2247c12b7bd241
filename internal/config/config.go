// Package config loads and validates server configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/denoiseopt/internal/fit"
	"github.com/cwbudde/denoiseopt/internal/store"
)

// Config holds all server configuration.
type Config struct {
	// Server settings.
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Storage settings.
	DataDir string
	Store   string // "fs" or "sqlite"

	// Optimizer defaults applied to jobs that leave them unset.
	MaxIterations int
	Parallelism   int
	Weights       fit.Weights

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are reported together rather than silently replaced.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		Addr:         envStr("DENOISE_ADDR", ":8080"),
		DataDir:      envStr("DENOISE_DATA_DIR", "./data"),
		Store:        envStr("DENOISE_STORE", store.KindFS),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "denoiseopt"),
		LogLevel:     envStr("DENOISE_LOG_LEVEL", "info"),
	}

	var err error
	cfg.ReadTimeout, err = envDuration("DENOISE_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.ShutdownTimeout, err = envDuration("DENOISE_SHUTDOWN_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.MaxIterations, err = envInt("DENOISE_MAX_ITERATIONS", fit.DefaultMaxIterations)
	collect(err)
	cfg.Parallelism, err = envInt("DENOISE_PARALLELISM", 4)
	collect(err)
	cfg.OTELInsecure, err = envBool("DENOISE_OTEL_INSECURE", false)
	collect(err)
	cfg.Weights, err = envWeights("DENOISE_WEIGHTS", fit.DefaultWeights())
	collect(err)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: DENOISE_ADDR is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DENOISE_DATA_DIR is required")
	}
	if c.Store != store.KindFS && c.Store != store.KindSQLite {
		return fmt.Errorf("config: DENOISE_STORE must be %q or %q, got %q", store.KindFS, store.KindSQLite, c.Store)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("config: DENOISE_MAX_ITERATIONS must not be negative")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("config: DENOISE_PARALLELISM must be positive")
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("config: DENOISE_WEIGHTS: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: DENOISE_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envWeights parses "psnr,ssim,mse".
func envWeights(key string, defaultVal fit.Weights) (fit.Weights, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	w, err := ParseWeights(v)
	if err != nil {
		return fit.Weights{}, fmt.Errorf("%s=%q: %w", key, v, err)
	}
	return w, nil
}

// ParseWeights parses a comma separated "psnr,ssim,mse" weight triple.
func ParseWeights(s string) (fit.Weights, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return fit.Weights{}, fmt.Errorf("expected 3 comma separated weights, got %d", len(parts))
	}
	var vals [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fit.Weights{}, fmt.Errorf("weight %d is not a number: %q", i+1, p)
		}
		vals[i] = f
	}
	return fit.Weights{PSNR: vals[0], SSIM: vals[1], MSE: vals[2]}, nil
}
