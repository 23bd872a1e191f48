package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs overrides the filesystem used by the file driver. Nil means the OS filesystem.
	Fs afero.Fs
}
