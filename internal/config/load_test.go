package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	cfg.Cookie = "user:pass"
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsMissingAuth(t *testing.T) {
	cfg := Default()
	cfg.Cookie = ""
	cfg.CookiePath = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error with no RPC credential configured")
	}
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{
		"--cookie", "user:pass",
		"--http-addr", "127.0.0.1:9999",
		"--index-batch-size", "42",
		"--address-search",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("flag did not override http addr: %q", cfg.HTTPAddr)
	}
	if cfg.IndexBatchSize != 42 {
		t.Fatalf("flag did not override batch size: %d", cfg.IndexBatchSize)
	}
	if !cfg.AddressSearch {
		t.Fatalf("bool flag did not stick")
	}
}

func TestEnvBetweenFileAndFlags(t *testing.T) {
	t.Setenv("TAPIDX_HTTP_ADDR", "127.0.0.1:8888")
	t.Setenv("TAPIDX_TXID_LIMIT", "77")

	cfg, err := Load([]string{"--cookie", "user:pass"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8888" {
		t.Fatalf("env did not apply: %q", cfg.HTTPAddr)
	}
	if cfg.TxidLimit != 77 {
		t.Fatalf("env int did not apply: %d", cfg.TxidLimit)
	}

	// A flag set on the same invocation still wins over env.
	cfg, err = Load([]string{"--cookie", "user:pass", "--http-addr", "127.0.0.1:9999"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("flag must beat env: %q", cfg.HTTPAddr)
	}
}

func TestConfOverridesOtherLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.toml")
	content := "http_addr = \"127.0.0.1:7777\"\ncookie = \"user:pass\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	t.Setenv("TAPIDX_HTTP_ADDR", "127.0.0.1:8888")

	cfg, err := Load([]string{"--conf", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7777" {
		t.Fatalf("--conf must override env: %q", cfg.HTTPAddr)
	}
}

func TestVerbosityRaisesLogLevel(t *testing.T) {
	cfg, err := Load([]string{"--cookie", "user:pass", "-v", "-v"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Verbosity != 2 || cfg.LogLevel != "debug" {
		t.Fatalf("repeated -v did not raise verbosity: %d %q", cfg.Verbosity, cfg.LogLevel)
	}
}
