package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("explicit missing file must error")
	}
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Kind != "udp" || cfg.Host.MaxPeers != 32 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Log.Level != "info" || len(cfg.Log.Outputs) == 0 {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadFromFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peerwire.yaml")
	body := `
app_name: test-node
log:
  level: debug
  format: json
host:
  max_peers: 5
  max_channels: 3
transport:
  kind: quic
  listen: "127.0.0.1:9000"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "test-node" || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Transport.Kind != "quic" || cfg.Host.MaxPeers != 5 || cfg.Host.MaxChannels != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// zero interval falls back
	if cfg.Host.ServiceIntervalMS <= 0 {
		t.Fatalf("service interval not defaulted")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  kind: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bogus transport kind accepted")
	}
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bogus log level accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PEERWIRE_LOG_LEVEL", "warn")
	t.Setenv("PEERWIRE_TRANSPORT_KIND", "mem")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env log level ignored: %q", cfg.Log.Level)
	}
	if cfg.Transport.Kind != "mem" {
		t.Fatalf("env transport kind ignored: %q", cfg.Transport.Kind)
	}
}
