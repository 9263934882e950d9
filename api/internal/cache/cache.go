// Package cache implements the content-addressed compile cache: a
// SHA-256 key over language, version, compile script, and sorted file
// contents, with hard-link restore (copy fallback) and copy-on-store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// File is one submitted source file, as seen by the cache key computation.
type File struct {
	Name    string
	Content []byte
}

// Cache is a directory of content-addressed compile artifact snapshots.
type Cache struct {
	root   string
	logger *logrus.Entry
}

// New creates a cache rooted at root, creating the directory if absent.
func New(root string, logger *logrus.Logger) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", root, err)
	}
	return &Cache{root: root, logger: logger.WithField("component", "cache")}, nil
}

// Root returns the cache's root directory.
func (c *Cache) Root() string {
	return c.root
}

// Key computes the SHA-256 hex digest over language, version (or
// "latest"), the compile script's contents, and the submitted files
// sorted by name ascending (nulls first).
func Key(language, version string, compileScript []byte, files []File) string {
	if version == "" {
		version = "latest"
	}

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	h := sha256.New()
	_, _ = io.WriteString(h, language)
	_, _ = io.WriteString(h, version)
	h.Write(compileScript)
	for _, f := range sorted {
		_, _ = io.WriteString(h, f.Name)
		h.Write(f.Content)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.root, key)
}

// Has reports whether a cache entry exists for key.
func (c *Cache) Has(key string) bool {
	_, err := os.Stat(c.entryPath(key))
	return err == nil
}

// Restore materializes the cached entry for key into dir using recursive
// hard-linking, falling back to a copy per file when hard-linking fails
// (e.g. across filesystems), and refreshes the entry's mtime sentinel.
func (c *Cache) Restore(key, dir string) error {
	src := c.entryPath(key)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cache entry %s does not exist: %w", key, err)
	}

	if err := hardLinkRecursive(src, dir); err != nil {
		return fmt.Errorf("failed to restore cache entry %s: %w", key, err)
	}

	c.touch(key)
	return nil
}

// Store copies dir into the cache under key, then touches the sentinel.
// The source directory is copied, not hard-linked, since it is the job's
// short-lived scratch directory and will be removed shortly after.
func (c *Cache) Store(key, dir string) error {
	dest := c.entryPath(key)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear stale cache entry %s: %w", key, err)
	}
	if err := copyRecursive(dir, dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("failed to store cache entry %s: %w", key, err)
	}

	c.touch(key)
	return nil
}

func (c *Cache) touch(key string) {
	sentinel := filepath.Join(c.entryPath(key), ".touch")
	now := time.Now()
	if err := os.WriteFile(sentinel, []byte{}, 0644); err != nil {
		c.logger.WithError(err).Warnf("failed to touch cache sentinel for %s", key)
		return
	}
	_ = os.Chtimes(sentinel, now, now)
}

func hardLinkRecursive(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.Link(path, target); err != nil {
			return copyFile(path, target, info.Mode())
		}
		return nil
	})
}

func copyRecursive(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
