package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gostash.yaml")
	data := []byte(`
addr: 0.0.0.0:9000
root: /srv/stash
max_conns: 32
idle_timeout: 90s
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "/srv/stash", cfg.Root)
	assert.Equal(t, 32, cfg.MaxConns)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, DefaultChunkSize, cfg.ChunkSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Stdout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad addr", func(c *Config) { c.Addr = "localhost" }},
		{"empty root", func(c *Config) { c.Root = "" }},
		{"negative max conns", func(c *Config) { c.MaxConns = -1 }},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}
