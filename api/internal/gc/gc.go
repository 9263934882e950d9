// Package gc periodically prunes the compile cache to a bounded number
// of entries, evicting the oldest-by-mtime directories once the count
// exceeds the configured maximum.
package gc

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Scavenger runs RunPass on a ticker until its context is cancelled.
type Scavenger struct {
	root       string
	maxEntries int
	interval   time.Duration
	logger     *logrus.Entry
}

// New creates a scavenger over root, pruning down to maxEntries every
// interval.
func New(root string, maxEntries int, interval time.Duration, logger *logrus.Logger) *Scavenger {
	return &Scavenger{root: root, maxEntries: maxEntries, interval: interval, logger: logger.WithField("component", "gc")}
}

// Start runs the scavenger loop until ctx is cancelled. It never exits on
// a pass error; failures are logged and the loop continues.
func (s *Scavenger) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunPass(); err != nil {
				s.logger.WithError(err).Warn("gc pass failed")
			}
		}
	}
}

type entry struct {
	path    string
	modTime time.Time
}

// RunPass scans the cache root once, treating each top-level directory
// as a cache entry, and removes the oldest entries beyond maxEntries.
func (s *Scavenger) RunPass() error {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []entry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			s.logger.WithError(err).Warnf("failed to stat cache entry %s", de.Name())
			continue
		}
		path := filepath.Join(s.root, de.Name())
		modTime := info.ModTime()
		if sentinel, err := os.Stat(filepath.Join(path, ".touch")); err == nil {
			modTime = sentinel.ModTime()
		}
		entries = append(entries, entry{path: path, modTime: modTime})
	}

	if len(entries) <= s.maxEntries {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	toRemove := entries[:len(entries)-s.maxEntries]
	for _, e := range toRemove {
		if err := os.RemoveAll(e.path); err != nil {
			s.logger.WithError(err).Warnf("failed to evict cache entry %s", e.path)
		}
	}

	return nil
}
