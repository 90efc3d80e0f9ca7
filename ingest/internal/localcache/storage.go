// Package localcache keeps best-effort JSON files in the data directory.
//
// Deployments may mount the data directory read-only. Storage probes
// writability once and remembers the answer; writes on a read-only
// directory are skipped with a warning instead of failing the caller.
// Files are written atomically (write .tmp then rename) so readers never see
// a partial document.
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// Well-known file names.
const (
	EventsCacheFile  = "events-cache.json"
	SampleEventsFile = "sample-events.json"
	StaticPlacesFile = "static-places.json"
	GeocodeCacheFile = "geocode-cache.json"
	RouteCacheFile   = "route-cache.json"
)

// Storage reads and writes JSON documents under one directory. Safe for
// concurrent use.
type Storage struct {
	dir    string
	logger *slog.Logger

	probe    sync.Once
	writable bool

	mu sync.Mutex // serializes writes
}

// New creates a Storage rooted at dir. The directory is created lazily.
func New(dir string, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{dir: dir, logger: logger}
}

// Dir returns the root directory.
func (s *Storage) Dir() string { return s.dir }

// Path returns the absolute path of name.
func (s *Storage) Path(name string) string { return filepath.Join(s.dir, name) }

// IsReadOnly reports whether err means the filesystem refuses writes.
func IsReadOnly(err error) bool {
	return errors.Is(err, syscall.EROFS) || errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM) || errors.Is(err, fs.ErrPermission)
}

// Writable reports whether the directory accepts writes. The first call
// creates the directory and a probe file; the result is cached.
func (s *Storage) Writable() bool {
	if s == nil {
		return false
	}
	s.probe.Do(func() {
		s.writable = s.checkWritable()
		if !s.writable {
			s.logger.Warn("localcache: data directory is read-only, skipping local cache writes", "dir", s.dir)
		}
	})
	return s.writable
}

func (s *Storage) checkWritable() bool {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		if !IsReadOnly(err) {
			s.logger.Warn("localcache: mkdir failed", "dir", s.dir, "error", err)
		}
		return false
	}
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		if !IsReadOnly(err) {
			s.logger.Warn("localcache: probe failed", "dir", s.dir, "error", err)
		}
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// ReadJSON decodes name into v. A missing file returns an error wrapping
// fs.ErrNotExist.
func (s *Storage) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return fmt.Errorf("localcache: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("localcache: decode %s: %w", name, err)
	}
	return nil
}

// WriteJSON encodes v as indented JSON into name. It reports whether the
// file was written; a read-only directory is not an error.
func (s *Storage) WriteJSON(name string, v any) (bool, error) {
	if !s.Writable() {
		return false, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, fmt.Errorf("localcache: encode %s: %w", name, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.Path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		if IsReadOnly(err) {
			s.logger.Warn("localcache: skipping write on read-only filesystem", "file", target)
			return false, nil
		}
		return false, fmt.Errorf("localcache: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		if IsReadOnly(err) {
			s.logger.Warn("localcache: skipping write on read-only filesystem", "file", target)
			return false, nil
		}
		return false, fmt.Errorf("localcache: rename: %w", err)
	}
	return true, nil
}
