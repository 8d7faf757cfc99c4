// Package audit provides a file-backed auth event trail with JSON Lines
// output, daily files, retention cleanup, and an in-memory recent ring.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/keygate-dev/keygate/internal/domain/audit"
)

// trailFilePattern matches trail filenames: audit-YYYY-MM-DD.jsonl
var trailFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})\.jsonl$`)

// FileTrailConfig holds configuration for the file-backed trail.
type FileTrailConfig struct {
	// Dir is the directory where trail files are stored.
	Dir string
	// RetentionDays is the number of days to keep trail files (default 30).
	RetentionDays int
	// RingSize is the number of recent records kept in memory (default 256).
	RingSize int
}

// FileTrail implements audit.Trail. One file per UTC day; files older
// than the retention period are removed at startup and hourly.
type FileTrail struct {
	dir           string
	retentionDays int

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	closed      bool

	ring   *recentRing
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

var _ audit.Trail = (*FileTrail)(nil)

// NewFileTrail opens today's trail file, reloads the recent ring from it,
// runs retention cleanup, and starts the hourly cleanup loop.
func NewFileTrail(cfg FileTrailConfig, logger *slog.Logger) (*FileTrail, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &FileTrail{
		dir:           cfg.Dir,
		retentionDays: cfg.RetentionDays,
		ring:          newRecentRing(cfg.RingSize),
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := t.openDateLocked(today); err != nil {
		cancel()
		return nil, err
	}

	t.runCleanup()
	t.reloadRing()
	go t.cleanupLoop(ctx)

	return t, nil
}

// Append writes records as JSON lines to the current day's file and adds
// them to the recent ring. A date change rotates to a new file.
func (t *FileTrail) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("audit trail is closed")
	}

	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")
		if dateStr != t.currentDate {
			if err := t.openDateLocked(dateStr); err != nil {
				return err
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		if _, err := t.currentFile.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
		t.ring.add(rec)
	}

	return nil
}

// Recent returns the last n records, newest first.
func (t *FileTrail) Recent(n int) []audit.Record {
	return t.ring.recent(n)
}

// Close stops the cleanup loop and closes the current file.
func (t *FileTrail) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()

	var err error
	if t.currentFile != nil {
		_ = t.currentFile.Sync()
		err = t.currentFile.Close()
		t.currentFile = nil
	}
	t.mu.Unlock()

	<-t.done
	return err
}

// openDateLocked switches the current file to the given UTC date.
// Must be called with t.mu held.
func (t *FileTrail) openDateLocked(dateStr string) error {
	if t.currentFile != nil {
		_ = t.currentFile.Sync()
		_ = t.currentFile.Close()
		t.currentFile = nil
	}

	path := filepath.Join(t.dir, fmt.Sprintf("audit-%s.jsonl", dateStr))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", path, err)
	}

	t.currentFile = f
	t.currentDate = dateStr
	return nil
}

// runCleanup deletes trail files older than the retention period.
func (t *FileTrail) runCleanup() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Error("audit cleanup failed to read directory", "dir", t.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -t.retentionDays)
	deleted := 0
	for _, e := range entries {
		m := trailFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(t.dir, e.Name())); err != nil {
				t.logger.Error("audit cleanup failed to delete file", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		t.logger.Info("audit cleanup removed expired files", "deleted", deleted)
	}
}

func (t *FileTrail) cleanupLoop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runCleanup()
		}
	}
}

// reloadRing replays the most recent non-empty trail file into the ring so
// the recent view survives restarts.
func (t *FileTrail) reloadRing() {
	name := t.newestFile()
	if name == "" {
		return
	}

	f, err := os.Open(filepath.Join(t.dir, name))
	if err != nil {
		t.logger.Error("audit ring reload failed", "file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			t.logger.Warn("audit ring reload skipping malformed line", "file", name, "error", err)
			continue
		}
		t.ring.add(rec)
	}
	if err := scanner.Err(); err != nil {
		t.logger.Error("audit ring reload read error", "file", name, "error", err)
	}
}

// newestFile returns the name of the most recent non-empty trail file.
func (t *FileTrail) newestFile() string {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if !trailFilePattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[len(names)-1]
}

// recentRing is a fixed-size ring of the latest records for the admin view.
type recentRing struct {
	mu      sync.RWMutex
	entries []audit.Record
	size    int
	head    int
	count   int
}

func newRecentRing(size int) *recentRing {
	return &recentRing{
		entries: make([]audit.Record, size),
		size:    size,
	}
}

func (r *recentRing) add(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

func (r *recentRing) recent(n int) []audit.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.head-1-i+r.size)%r.size]
	}
	return out
}
