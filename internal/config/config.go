// Package config loads and validates the engine's typed configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BreakerMode selects how circuit breakers are scoped.
type BreakerMode string

const (
	BreakerOff     BreakerMode = "off"
	BreakerGlobal  BreakerMode = "global"
	BreakerPerHost BreakerMode = "per_host"
)

// EngineConfig is the enumerated, range-validated configuration object
// called for in the engine's design notes, replacing free-form dynamic
// config with one typed struct.
type EngineConfig struct {
	MaxParallelDownloads  int         `yaml:"max_parallel_downloads"`
	MaxChunksPerDownload  int         `yaml:"max_chunks_per_download"`
	MaxChunkRetries       int         `yaml:"max_chunk_retries"`
	ChunkTimeoutMinutes   float64     `yaml:"chunk_timeout_min"`
	SkipVerification      bool        `yaml:"skip_verification"`
	DisableChunked        bool        `yaml:"disable_chunked"`
	CircuitBreakerMode    BreakerMode `yaml:"circuit_breaker_mode"`
	HostAllowlist         []string    `yaml:"host_allowlist"`
	PerHostConcurrencyCap int         `yaml:"per_host_concurrency_cap"`
	OrganizeByCategory    bool        `yaml:"organize_by_category"`
	HashAlgorithm         string      `yaml:"hash_algorithm"`
	DBPath                string      `yaml:"db_path"`
	StagingRoot           string      `yaml:"staging_root"`
}

// Default returns the spec's documented defaults.
func Default() *EngineConfig {
	return &EngineConfig{
		MaxParallelDownloads:  3,
		MaxChunksPerDownload:  8,
		MaxChunkRetries:       5,
		ChunkTimeoutMinutes:   5,
		SkipVerification:      false,
		DisableChunked:        false,
		CircuitBreakerMode:    BreakerPerHost,
		HostAllowlist:         nil,
		PerHostConcurrencyCap: 3,
		OrganizeByCategory:    false,
		HashAlgorithm:         "sha256",
		DBPath:                "downloads-state.db",
		StagingRoot:           ".",
	}
}

// Load reads a YAML file, falling back to Default for a missing file, and
// validates every enumerated range.
func Load(path string) (*EngineConfig, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces every enumerated range named in the design notes.
func (c *EngineConfig) Validate() error {
	if c.MaxParallelDownloads < 1 || c.MaxParallelDownloads > 10 {
		return fmt.Errorf("config: max_parallel_downloads must be in 1..10, got %d", c.MaxParallelDownloads)
	}
	if c.MaxChunksPerDownload < 1 || c.MaxChunksPerDownload > 16 {
		return fmt.Errorf("config: max_chunks_per_download must be in 1..16, got %d", c.MaxChunksPerDownload)
	}
	if c.MaxChunkRetries < 0 || c.MaxChunkRetries > 50 {
		return fmt.Errorf("config: max_chunk_retries must be in 0..50, got %d", c.MaxChunkRetries)
	}
	if c.ChunkTimeoutMinutes < 0.5 || c.ChunkTimeoutMinutes > 60 {
		return fmt.Errorf("config: chunk_timeout_min must be in 0.5..60, got %f", c.ChunkTimeoutMinutes)
	}
	switch c.CircuitBreakerMode {
	case BreakerOff, BreakerGlobal, BreakerPerHost:
	default:
		return fmt.Errorf("config: circuit_breaker_mode must be off|global|per_host, got %q", c.CircuitBreakerMode)
	}
	switch c.HashAlgorithm {
	case "sha256", "blake3", "":
	default:
		return fmt.Errorf("config: hash_algorithm must be sha256|blake3, got %q", c.HashAlgorithm)
	}
	if c.PerHostConcurrencyCap < 1 {
		c.PerHostConcurrencyCap = c.MaxParallelDownloads
	}
	return nil
}
