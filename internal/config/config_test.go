package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.PortRange.Start != 10000 || cfg.PortRange.End != 10999 {
		t.Errorf("PortRange = %+v, want 10000-10999", cfg.PortRange)
	}
	if cfg.Health.Attempts != 30 || cfg.Health.Interval != time.Second {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.APISocket != filepath.Join(dir, "easycicd.sock") {
		t.Errorf("APISocket = %q", cfg.APISocket)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
proxy_addr: ":9000"
base_domain: "ci.example.com"
port_range:
  start: 20000
  end: 20099
workers: 4
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProxyAddr != ":9000" {
		t.Errorf("ProxyAddr = %q", cfg.ProxyAddr)
	}
	if cfg.BaseDomain != "ci.example.com" {
		t.Errorf("BaseDomain = %q", cfg.BaseDomain)
	}
	if cfg.PortRange.Start != 20000 {
		t.Errorf("PortRange.Start = %d", cfg.PortRange.Start)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Workers)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EASYCICD_BASE_DOMAIN", "env.example.com")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDomain != "env.example.com" {
		t.Errorf("BaseDomain = %q, want env override", cfg.BaseDomain)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.PortRange = PortRange{Start: 5000, End: 5000}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for single-port range")
	}

	cfg = Default(t.TempDir())
	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}
}
