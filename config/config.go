// Package config holds the settings shared by the server and the client.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr      = "127.0.0.1:8080"
	DefaultRoot      = "./server_files"
	DefaultChunkSize = 4096
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Addr        string        `yaml:"addr"`
	Root        string        `yaml:"root"`
	MaxConns    int           `yaml:"max_conns"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	ChunkSize   int           `yaml:"chunk_size"`
	Log         Log           `yaml:"log"`
}

type Log struct {
	Path   string `yaml:"path"`
	Level  string `yaml:"level"`
	Stdout bool   `yaml:"stdout"`
}

// Default returns the settings the server runs with when nothing is
// configured: loopback on 8080, unbounded connections, no idle timeout.
func Default() *Config {
	return &Config{
		Addr:      DefaultAddr,
		Root:      DefaultRoot,
		ChunkSize: DefaultChunkSize,
		Log: Log{
			Level:  "info",
			Stdout: true,
		},
	}
}

// Load decodes the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalidConfig, c.Addr, err)
	}

	if c.Root == "" {
		return fmt.Errorf("%w: root is empty", ErrInvalidConfig)
	}

	if c.MaxConns < 0 {
		return fmt.Errorf("%w: max_conns must not be negative", ErrInvalidConfig)
	}

	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrInvalidConfig)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}

	return nil
}
