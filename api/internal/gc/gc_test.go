package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPassEvictsOldestBeyondMax(t *testing.T) {
	root := t.TempDir()

	names := []string{"aaa", "bbb", "ccc", "ddd"}
	for i, name := range names {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		modTime := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, modTime, modTime))
	}

	s := New(root, 2, time.Minute, logrus.New())
	require.NoError(t, s.RunPass())

	remaining, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	var remainingNames []string
	for _, e := range remaining {
		remainingNames = append(remainingNames, e.Name())
	}
	assert.ElementsMatch(t, []string{"ccc", "ddd"}, remainingNames)
}

func TestRunPassPrefersTouchSentinelOverDirMtime(t *testing.T) {
	root := t.TempDir()

	names := []string{"aaa", "bbb", "ccc", "ddd"}
	for i, name := range names {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		modTime := time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, modTime, modTime))
	}

	// "aaa" has the oldest directory mtime, but a freshly-touched sentinel
	// (e.g. from a recent cache restore) should keep it out of eviction.
	sentinel := filepath.Join(root, "aaa", ".touch")
	require.NoError(t, os.WriteFile(sentinel, nil, 0644))
	freshTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(sentinel, freshTime, freshTime))

	s := New(root, 2, time.Minute, logrus.New())
	require.NoError(t, s.RunPass())

	remaining, err := os.ReadDir(root)
	require.NoError(t, err)

	var remainingNames []string
	for _, e := range remaining {
		remainingNames = append(remainingNames, e.Name())
	}
	assert.ElementsMatch(t, []string{"aaa", "ddd"}, remainingNames)
}

func TestRunPassNoopUnderLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "only"), 0755))

	s := New(root, 500, time.Minute, logrus.New())
	require.NoError(t, s.RunPass())

	remaining, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRunPassMissingRootIsNotAnError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"), 10, time.Minute, logrus.New())
	assert.NoError(t, s.RunPass())
}
