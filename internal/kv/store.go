// Package kv provides the local persistence port: a small string key/value
// store used to hold the serialized library snapshot and sync ledger.
//
// Backends are selected by DSN scheme:
//
//	bolt:///path/to/library.db   BoltDB file (default)
//	sqlite:///path/to/library.db SQLite file
//	memory:                      in-process map, not persisted
//
// A plain path with no scheme opens the BoltDB backend.
package kv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Store is the persistence port consumed by the snapshot cache and dirty
// ledger. Get reports (value, found); a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// DefaultPath returns the default location of the local library database:
// ~/.local/share/soundkeep/library.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "soundkeep", "library.db"), nil
}

// Open builds a Store from a DSN. An empty DSN opens the BoltDB backend at
// [DefaultPath].
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		return OpenBolt(path)
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing store DSN %q: %w", dsn, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "", "file", "bolt":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return OpenBolt(path)
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

// dsnPath extracts a filesystem path from a parsed DSN, accepting both
// "bolt:///abs/path" and bare "relative/path" forms.
func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Opaque != "" {
		return parsed.Opaque, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = filepath.Join(parsed.Host, path)
	}
	if path == "" {
		path = raw
	}
	if path == "" {
		return "", fmt.Errorf("store DSN %q has no path", raw)
	}
	return path, nil
}
