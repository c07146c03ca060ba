package chunkstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepOnceRemovesOnlyStaleEntries(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * time.Minute)
	fresh := now.Add(-1 * time.Minute)

	staleDir := filepath.Join(root, "stale-session")
	liveDir := filepath.Join(root, "live-session")
	for _, dir := range []string{staleDir, liveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll err: %v", err)
		}
	}

	writeWithTime(t, filepath.Join(staleDir, "chunk_00000000.webm"), old)
	writeWithTime(t, filepath.Join(liveDir, "chunk_00000000.webm"), old)
	writeWithTime(t, filepath.Join(liveDir, "chunk_00000001.webm"), fresh)
	writeWithTime(t, filepath.Join(root, "merged_legacy.wav"), old)
	setTime(t, staleDir, old)
	setTime(t, liveDir, old)

	sweeper := NewSweeper(root, time.Minute, 7*time.Minute, nil)
	sweeper.now = func() time.Time { return now }

	removed, err := sweeper.SweepOnce()
	if err != nil {
		t.Fatalf("SweepOnce err: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Fatalf("expected stale session dir removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(liveDir, "chunk_00000001.webm")); err != nil {
		t.Fatalf("expected live session kept: %v", err)
	}
}

func TestSweepOnceMissingRoot(t *testing.T) {
	sweeper := NewSweeper(filepath.Join(t.TempDir(), "absent"), time.Minute, time.Minute, nil)
	removed, err := sweeper.SweepOnce()
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op on missing root, got %d, %v", removed, err)
	}
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	sweeper := NewSweeper(t.TempDir(), 0, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero interval should return immediately")
	}
}

func writeWithTime(t *testing.T, path string, ts time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}
	setTime(t, path, ts)
}

func setTime(t *testing.T, path string, ts time.Time) {
	t.Helper()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("Chtimes err: %v", err)
	}
}
