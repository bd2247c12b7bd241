package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_DUR_BAD="five-seconds" is not a valid duration`, err.Error())
}

func TestParseWeights(t *testing.T) {
	w, err := ParseWeights("2, 0.5,0")
	require.NoError(t, err)
	assert.Equal(t, fit.Weights{PSNR: 2, SSIM: 0.5, MSE: 0}, w)

	_, err = ParseWeights("1,1")
	assert.Error(t, err)

	_, err = ParseWeights("1,x,1")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "fs", cfg.Store)
	assert.Equal(t, fit.DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, fit.DefaultWeights(), cfg.Weights)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.OTELEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DENOISE_ADDR", "127.0.0.1:9000")
	t.Setenv("DENOISE_STORE", "sqlite")
	t.Setenv("DENOISE_MAX_ITERATIONS", "12")
	t.Setenv("DENOISE_WEIGHTS", "1,2,0")
	t.Setenv("DENOISE_OTEL_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, fit.Weights{PSNR: 1, SSIM: 2, MSE: 0}, cfg.Weights)
	assert.True(t, cfg.OTELInsecure)
}

func TestLoadReportsAllMalformedValues(t *testing.T) {
	t.Setenv("DENOISE_MAX_ITERATIONS", "lots")
	t.Setenv("DENOISE_PARALLELISM", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DENOISE_MAX_ITERATIONS")
	assert.Contains(t, err.Error(), "DENOISE_PARALLELISM")
}

func TestValidate(t *testing.T) {
	base := Config{
		Addr:            ":8080",
		DataDir:         "data",
		Store:           "fs",
		MaxIterations:   5,
		Parallelism:     1,
		Weights:         fit.DefaultWeights(),
		ShutdownTimeout: time.Second,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "postgres" }},
		{"negative iterations", func(c *Config) { c.MaxIterations = -1 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"negative weight", func(c *Config) { c.Weights.SSIM = -1 }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := base
	c.Weights.MSE = -2
	assert.True(t, errors.Is(c.Validate(), fit.ErrInvalidWeights))
}
