package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "abc123"
collection: "music"
probe_interval: 45s
request_timeout: 10s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RemoteURL != "https://store.example.com" {
		t.Errorf("RemoteURL = %q, want %q", cfg.RemoteURL, "https://store.example.com")
	}
	if cfg.RemoteToken != "abc123" {
		t.Errorf("RemoteToken = %q, want %q", cfg.RemoteToken, "abc123")
	}
	if cfg.Collection != "music" {
		t.Errorf("Collection = %q, want %q", cfg.Collection, "music")
	}
	if cfg.ProbeInterval != 45*time.Second {
		t.Errorf("ProbeInterval = %v, want 45s", cfg.ProbeInterval)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Collection != "library" {
		t.Errorf("Collection = %q, want default %q", cfg.Collection, "library")
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v, want default 30s", cfg.ProbeInterval)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0 (disabled)", cfg.SyncInterval)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want default 15s", cfg.RequestTimeout)
	}
}

func TestLoad_MissingRemoteURL(t *testing.T) {
	path := writeConfig(t, `
remote_token: "token"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing remote_url, got nil")
	}
}

func TestLoad_InvalidRemoteURL(t *testing.T) {
	path := writeConfig(t, `
remote_url: "not-a-url"
remote_token: "token"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid remote_url, got nil")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing remote_token, got nil")
	}
}

func TestLoad_ProbeIntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
probe_interval: 1s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for probe_interval < 5s, got nil")
	}
}

func TestLoad_ProbeIntervalTooLong(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
probe_interval: 10m
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for probe_interval > 5m, got nil")
	}
}

func TestLoad_SyncIntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
sync_interval: 5s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for sync_interval < 30s, got nil")
	}
}

func TestLoad_RequestTimeoutTooLong(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
request_timeout: 5m
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for request_timeout > 2m, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
unknown_field: oops
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown config key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-soundkeep"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-soundkeep" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-soundkeep")
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
telemetry:
  insecure: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, `
remote_url: "https://store.example.com"
remote_token: "token"
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
	if cfg.Telemetry.Headers["x-dataset"] != "test" {
		t.Errorf("x-dataset header = %q, want %q", cfg.Telemetry.Headers["x-dataset"], "test")
	}
}
