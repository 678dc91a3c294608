package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxParallelDownloads != Default().MaxParallelDownloads {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoadParsesAndValidatesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enginehost.yaml")
	writeFile(t, path, "max_parallel_downloads: 5\nhash_algorithm: blake3\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxParallelDownloads != 5 {
		t.Fatalf("expected override to 5, got %d", cfg.MaxParallelDownloads)
	}
	if cfg.HashAlgorithm != "blake3" {
		t.Fatalf("expected blake3, got %q", cfg.HashAlgorithm)
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	cfg := Default()
	cfg.MaxParallelDownloads = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for max_parallel_downloads out of range")
	}

	cfg = Default()
	cfg.HashAlgorithm = "md5"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported hash algorithm")
	}

	cfg = Default()
	cfg.CircuitBreakerMode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized circuit breaker mode")
	}
}

func TestValidateDefaultsPerHostCapFromGlobal(t *testing.T) {
	cfg := Default()
	cfg.PerHostConcurrencyCap = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.PerHostConcurrencyCap != cfg.MaxParallelDownloads {
		t.Fatalf("expected per_host_concurrency_cap to fall back to %d, got %d", cfg.MaxParallelDownloads, cfg.PerHostConcurrencyCap)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
