// Package checkpoint persists workflow state snapshots keyed by logical
// thread id. A Put is durable before the engine proceeds; a fresh process
// given the same thread id observes the most recent Put.
package checkpoint

import (
	"context"
	"fmt"
)

// Store is the pluggable checkpoint backend. Get returns (nil, nil) for an
// unknown thread id. Each Put is atomic at the value level: a concurrent
// reader sees the pre- or post-value, never a torn write.
type Store interface {
	Put(ctx context.Context, threadID string, state []byte) error
	Get(ctx context.Context, threadID string) ([]byte, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendNetwork = "network"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend string // memory | file | network
	Path    string // file backend: sqlite path
	Kind    string // network backend: redis | postgres
	URL     string // network backend: connection URL
}

// Open constructs the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file checkpoint backend requires a path")
		}
		return NewSQLiteStore(cfg.Path)
	case BackendNetwork:
		switch cfg.Kind {
		case "redis":
			return NewRedisStore(cfg.URL)
		case "postgres":
			return NewPostgresStore(cfg.URL)
		default:
			return nil, fmt.Errorf("network checkpoint backend requires kind redis or postgres (got %q)", cfg.Kind)
		}
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
