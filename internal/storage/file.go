package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "timeanchor/pkg/logx"
)

// fileStore keeps one document per key next to the configured path:
//
//	<dir>/<base>.<key>.json
//
// Writes go to a temp file first and are renamed into place, so a crash
// mid-write leaves the previous document intact.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu     sync.Mutex
	prefix string
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, fs: fs, prefix: filepath.Join(dir, base)}, nil
}

func (s *fileStore) keyPath(key string) string {
	return s.prefix + "." + sanitizeKey(key) + ".json"
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, err := afero.ReadFile(s.fs, s.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) Put(ctx context.Context, key string, val []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	path := s.keyPath(key)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, val, 0o600); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	s.log.Trace("document written", logx.String("key", key), logx.Int("bytes", len(val)))
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := s.fs.Remove(s.keyPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// sanitizeKey keeps keys filesystem-safe: anything outside [A-Za-z0-9._-] becomes '_'.
func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "_"
	}
	b := []byte(key)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
