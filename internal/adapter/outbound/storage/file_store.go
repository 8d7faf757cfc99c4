// Package storage provides the file-backed token store.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/keygate-dev/keygate/internal/port/outbound"
)

// FileTokenStore persists the session record to a single JSON file. It is
// the durable mirror of the session manager's in-memory cell: the token,
// principal and expiry are written and cleared together, never partially.
// Writes are atomic (write-tmp-then-rename) and guarded by both an
// in-process mutex and a cross-process flock.
type FileTokenStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileTokenStore creates a FileTokenStore for the given file path.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	return &FileTokenStore{
		path:   path,
		logger: logger,
	}
}

// Load reads and parses the session file.
// Returns outbound.ErrNoStoredSession when the file is absent or the record
// is incomplete; a half-written record must never surface as a session.
func (s *FileTokenStore) Load() (*outbound.StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, outbound.ErrNoStoredSession
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	// Warn if the file is readable by group/other; it holds a bearer token.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("session file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var stored outbound.StoredSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if stored.Token == "" || stored.ExpiresAt.IsZero() || stored.Principal.ID == "" {
		return nil, outbound.ErrNoStoredSession
	}
	return &stored, nil
}

// Save writes the session record to disk atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Marshal record as indented JSON
//  4. Write to path+".tmp" with 0600 permissions
//  5. Fsync the temp file
//  6. Rename path+".tmp" -> path
//  7. Release flock and mutex
func (s *FileTokenStore) Save(stored *outbound.StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock()
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	// Safety net after rename; the token must not be world-readable.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on session file", "error", err)
	}

	s.logger.Debug("session persisted", "path", s.path)
	return nil
}

// Clear removes the session file. Idempotent: clearing an absent file is
// not an error.
func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Path returns the configured file path.
func (s *FileTokenStore) Path() string {
	return s.path
}

// flock acquires the cross-process lock and returns its release function.
func (s *FileTokenStore) flock() (func(), error) {
	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockLock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return func() {
		_ = flockUnlock(lockFile.Fd())
		_ = lockFile.Close()
	}, nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *FileTokenStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to session file: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ outbound.TokenStore = (*FileTokenStore)(nil)
