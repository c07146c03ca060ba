package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sweeper periodically removes storage entries older than MaxAge.
// It runs independently of any pipeline state.
type Sweeper struct {
	Root     string
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *slog.Logger
	// OnSweep, when set, receives the number of entries removed by each pass.
	OnSweep func(removed int)

	now func() time.Time
}

// NewSweeper builds a sweeper for root.
func NewSweeper(root string, interval, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Root:     root,
		Interval: interval,
		MaxAge:   maxAge,
		Logger:   logger.With(slog.String("component", "sweeper")),
		now:      time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled. A non-positive interval
// disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		s.Logger.Info("storage cleanup disabled")
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.SweepOnce()
			if err != nil {
				s.Logger.Warn("storage cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if s.OnSweep != nil {
				s.OnSweep(removed)
			}
			if removed > 0 {
				s.Logger.Info("storage cleanup finished", slog.Int("removed", removed))
			}
		}
	}
}

// SweepOnce removes top-level files and session directories under Root whose
// modification time is older than MaxAge. It returns the number removed.
func (s *Sweeper) SweepOnce() (int, error) {
	entries, err := os.ReadDir(s.Root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read storage root: %w", err)
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-s.MaxAge)

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.Root, entry.Name())

		modTime := info.ModTime()
		if entry.IsDir() {
			modTime = newestModTime(path, modTime)
		}
		if !modTime.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			s.Logger.Warn("failed to delete stale entry", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		s.Logger.Debug("deleted stale entry", slog.String("path", path))
		removed++
	}
	return removed, nil
}

// newestModTime looks inside a session directory so a recording that is still
// receiving chunks is not swept because its directory was created long ago.
func newestModTime(dir string, fallback time.Time) time.Time {
	newest := fallback
	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}
