package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/afero"

	logx "timeanchor/pkg/logx"
)

// Store is the minimal persistence API used by the sequence library.
//
// Get reports ok=false (and no error) when the key has never been written.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "memory", "mem":
		cfg.Fs = afero.NewMemMapFs()
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = "/timeanchor"
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
