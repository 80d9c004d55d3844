package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinimumPrefixSizeV4 != 9 || cfg.MinimumPrefixSizeV6 != 29 {
		t.Errorf("expected default prefix floors 9/29, got %d/%d", cfg.MinimumPrefixSizeV4, cfg.MinimumPrefixSizeV6)
	}
	if cfg.MaxQueryLength != 255 {
		t.Errorf("expected default max query length 255, got %d", cfg.MaxQueryLength)
	}
	if cfg.SetSizeLimit != 1000 {
		t.Errorf("expected default set size limit 1000, got %d", cfg.SetSizeLimit)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAX_QUERY_LENGTH", "128")
	t.Setenv("IRRD_ENDPOINT", "https://irrd.example.net")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxQueryLength != 128 {
		t.Errorf("expected env override to 128, got %d", cfg.MaxQueryLength)
	}
	if cfg.IRRDEndpoint != "https://irrd.example.net" {
		t.Errorf("expected IRRD_ENDPOINT override, got %q", cfg.IRRDEndpoint)
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	if _, err := os.Stat("/nonexistent/irrquery-config.yaml"); err == nil {
		t.Skip("unexpected file exists")
	}
	_, err := Load("/nonexistent/irrquery-config.yaml")
	if err != nil {
		t.Fatalf("missing config file should not error, got %v", err)
	}
}
