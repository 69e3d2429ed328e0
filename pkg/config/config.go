package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Cache      CacheConfig      `yaml:"cache"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ClusteringConfig holds the per-kind similarity thresholds. An edge
// exists between two genes when either threshold is met. The defaults
// follow the classic Phamerator settings: 32.5% ClustalW identity or a
// BLAST bit score of 50.
type ClusteringConfig struct {
	IdentityThreshold float64 `yaml:"identity_threshold"`
	BitScoreThreshold float64 `yaml:"bitscore_threshold"`
}

type ScoringConfig struct {
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CacheConfig struct {
	// HotEntries sizes the in-memory LRU layer over the score table.
	HotEntries int `yaml:"hot_entries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: "0.0.0.0:8080"},
		Clustering: ClusteringConfig{
			IdentityThreshold: 32.5,
			BitScoreThreshold: 50,
		},
		Scoring: ScoringConfig{
			Workers:     4,
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    time.Minute,
		},
		Cache: CacheConfig{HotEntries: 65536},
	}
}

// Load reads configuration from a YAML file. Unset fields fall back to
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Clustering.IdentityThreshold < 0 || c.Clustering.IdentityThreshold > 100 {
		return fmt.Errorf("clustering.identity_threshold out of range: %v",
			c.Clustering.IdentityThreshold)
	}
	if c.Clustering.BitScoreThreshold < 0 {
		return fmt.Errorf("clustering.bitscore_threshold must be non-negative")
	}
	if c.Scoring.Workers < 1 {
		return fmt.Errorf("scoring.workers must be at least 1")
	}
	if c.Scoring.MaxAttempts < 1 {
		return fmt.Errorf("scoring.max_attempts must be at least 1")
	}
	if c.Cache.HotEntries < 1 {
		return fmt.Errorf("cache.hot_entries must be at least 1")
	}
	return nil
}
