// Package config loads and validates the soundkeep YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// RemoteURL is the base URL of the remote document store
	// (e.g. "https://store.example.com").
	RemoteURL string `yaml:"remote_url"`

	// RemoteToken is the bearer token used to authenticate with the store.
	RemoteToken string `yaml:"remote_token"`

	// Collection is the name of the remote collection holding the library.
	// Defaults to "library" if unset.
	Collection string `yaml:"collection"`

	// StoreDSN selects the local snapshot store. Supported schemes:
	// "bolt:", "sqlite:", "memory:", or a plain file path (bbolt).
	// Defaults to a bbolt file under ~/.local/share/soundkeep if unset.
	StoreDSN string `yaml:"store_dsn"`

	// ProbeInterval controls how often connectivity is re-checked.
	// Minimum 5s, maximum 5m. Defaults to 30s if unset.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// SyncInterval enables a periodic flush of pending changes while dirty.
	// Zero disables the ticker; when set, minimum 30s, maximum 1h.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// RequestTimeout bounds each individual HTTP request to the remote
	// store. Minimum 1s, maximum 2m. Defaults to 15s if unset.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// LogFile routes logs to a rotated file instead of stderr when set.
	LogFile string `yaml:"log_file,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "soundkeep".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/soundkeep/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "soundkeep", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	u, err := url.ParseRequestURI(c.RemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("remote_url %q must be a valid http or https URL", c.RemoteURL)
	}

	if c.RemoteToken == "" {
		return fmt.Errorf("remote_token is required")
	}

	if c.Collection == "" {
		c.Collection = "library"
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.ProbeInterval < 5*time.Second {
		return fmt.Errorf("probe_interval %v is too short (minimum 5s)", c.ProbeInterval)
	}
	if c.ProbeInterval > 5*time.Minute {
		return fmt.Errorf("probe_interval %v is too long (maximum 5m)", c.ProbeInterval)
	}

	if c.SyncInterval != 0 {
		if c.SyncInterval < 30*time.Second {
			return fmt.Errorf("sync_interval %v is too short (minimum 30s)", c.SyncInterval)
		}
		if c.SyncInterval > time.Hour {
			return fmt.Errorf("sync_interval %v is too long (maximum 1h)", c.SyncInterval)
		}
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout %v is too short (minimum 1s)", c.RequestTimeout)
	}
	if c.RequestTimeout > 2*time.Minute {
		return fmt.Errorf("request_timeout %v is too long (maximum 2m)", c.RequestTimeout)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
