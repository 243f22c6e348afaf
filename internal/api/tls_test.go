package api

import (
	"testing"
)

func clearTLSEnv(t *testing.T) {
	t.Setenv("WORKBENCH_TLS_CERT", "")
	t.Setenv("WORKBENCH_TLS_KEY", "")
}

func TestTLSFromEnv_NothingSet(t *testing.T) {
	clearTLSEnv(t)

	if cfg := TLSFromEnv("", ""); cfg.Enabled() {
		t.Error("TLS should not be enabled when nothing is set")
	}
}

func TestTLSFromEnv_OnlyCert(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv("WORKBENCH_TLS_CERT", "/path/to/cert.pem")

	if cfg := TLSFromEnv("", ""); cfg != nil {
		t.Error("TLS should not be enabled when only cert is set")
	}
}

func TestTLSFromEnv_OnlyKey(t *testing.T) {
	clearTLSEnv(t)

	if cfg := TLSFromEnv("", "/path/to/key.pem"); cfg != nil {
		t.Error("TLS should not be enabled when only key is set")
	}
}

func TestTLSFromEnv_EnvOverridesConfig(t *testing.T) {
	clearTLSEnv(t)
	t.Setenv("WORKBENCH_TLS_CERT", "/env/cert.pem")

	cfg := TLSFromEnv("/cfg/cert.pem", "/cfg/key.pem")
	if !cfg.Enabled() {
		t.Fatal("TLS should be enabled when both cert and key are known")
	}
	if cfg.CertFile != "/env/cert.pem" {
		t.Errorf("CertFile = %q, want %q", cfg.CertFile, "/env/cert.pem")
	}
	if cfg.KeyFile != "/cfg/key.pem" {
		t.Errorf("KeyFile = %q, want %q", cfg.KeyFile, "/cfg/key.pem")
	}
}

func TestTLSLoad_NotEnabled(t *testing.T) {
	var cfg *TLSConfig
	tc, err := cfg.Load()
	if err != nil || tc != nil {
		t.Errorf("Load on nil config = %v, %v; want nil, nil", tc, err)
	}
}

func TestTLSLoad_InvalidFiles(t *testing.T) {
	cfg := &TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	tc, err := cfg.Load()
	if err == nil {
		t.Error("Load should fail when cert files don't exist")
	}
	if tc != nil {
		t.Error("Load should return nil config on failure")
	}
}
