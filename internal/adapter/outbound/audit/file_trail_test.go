package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/keygate-dev/keygate/internal/domain/audit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTrail(t *testing.T, dir string) *FileTrail {
	t.Helper()
	trail, err := NewFileTrail(FileTrailConfig{Dir: dir}, discardLogger())
	if err != nil {
		t.Fatalf("NewFileTrail() error = %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

func TestAppendWritesJSONLines(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	trail := newTrail(t, dir)

	err := trail.Append(context.Background(),
		audit.Record{EventType: audit.EventLogin, Username: "alice", PrincipalID: "u-1"},
		audit.Record{EventType: audit.EventLogout, Username: "alice"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	name := "audit-" + time.Now().UTC().Format("2006-01-02") + ".jsonl"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading trail file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"auth.login"`) || !strings.Contains(lines[0], `"alice"`) {
		t.Errorf("first line = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"auth.logout"`) {
		t.Errorf("second line = %s", lines[1])
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	trail := newTrail(t, t.TempDir())

	for _, user := range []string{"a", "b", "c"} {
		if err := trail.Append(context.Background(), audit.Record{
			EventType: audit.EventLogin, Username: user,
		}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recent := trail.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Username != "c" || recent[1].Username != "b" {
		t.Errorf("recent = [%s %s], want [c b]", recent[0].Username, recent[1].Username)
	}
	if got := trail.Recent(10); len(got) != 3 {
		t.Errorf("Recent(10) len = %d, want all 3", len(got))
	}
}

func TestRingWrapsAtCapacity(t *testing.T) {
	trail, err := NewFileTrail(FileTrailConfig{Dir: t.TempDir(), RingSize: 2}, discardLogger())
	if err != nil {
		t.Fatalf("NewFileTrail() error = %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })

	for _, user := range []string{"a", "b", "c"} {
		_ = trail.Append(context.Background(), audit.Record{Username: user})
	}

	recent := trail.Recent(5)
	if len(recent) != 2 || recent[0].Username != "c" || recent[1].Username != "b" {
		t.Errorf("recent = %+v, want the last two entries", recent)
	}
}

func TestRingSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	trail := newTrail(t, dir)
	if err := trail.Append(context.Background(), audit.Record{
		EventType: audit.EventLogin, Username: "alice",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTrail(t, dir)
	recent := reopened.Recent(1)
	if len(recent) != 1 || recent[0].Username != "alice" {
		t.Errorf("recent after restart = %+v", recent)
	}
}

func TestRetentionRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")
	oldPath := filepath.Join(dir, "audit-"+old+".jsonl")
	if err := os.WriteFile(oldPath, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Files that do not match the trail naming are left alone.
	keepPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(keepPath, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	trail, err := NewFileTrail(FileTrailConfig{Dir: dir, RetentionDays: 7}, discardLogger())
	if err != nil {
		t.Fatalf("NewFileTrail() error = %v", err)
	}
	t.Cleanup(func() { _ = trail.Close() })

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("expired trail file not removed")
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	trail := newTrail(t, t.TempDir())
	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := trail.Append(context.Background(), audit.Record{Username: "a"}); err == nil {
		t.Error("Append() after Close error = nil, want error")
	}
	// Close is idempotent.
	if err := trail.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestAppendFillsZeroTimestamp(t *testing.T) {
	trail := newTrail(t, t.TempDir())
	before := time.Now().UTC()
	if err := trail.Append(context.Background(), audit.Record{Username: "a"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	recent := trail.Recent(1)
	if len(recent) != 1 || recent[0].Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp = %v, want filled in", recent)
	}
}
