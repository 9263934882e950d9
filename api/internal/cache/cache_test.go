package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

func TestKeyIsDeterministicAndOrderIndependent(t *testing.T) {
	files := []File{
		{Name: "b.py", Content: []byte("print(2)")},
		{Name: "a.py", Content: []byte("print(1)")},
	}
	reordered := []File{files[1], files[0]}

	k1 := Key("python", "3.11.0", []byte("compile.sh contents"), files)
	k2 := Key("python", "3.11.0", []byte("compile.sh contents"), reordered)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestKeyChangesWithContent(t *testing.T) {
	files := []File{{Name: "main.py", Content: []byte("print(1)")}}
	k1 := Key("python", "3.11.0", []byte("script"), files)

	files[0].Content = []byte("print(2)")
	k2 := Key("python", "3.11.0", []byte("script"), files)

	assert.NotEqual(t, k1, k2)
}

func TestKeyDefaultsVersionToLatest(t *testing.T) {
	files := []File{{Name: "main.py", Content: []byte("print(1)")}}
	k1 := Key("python", "", []byte("script"), files)
	k2 := Key("python", "latest", []byte("script"), files)
	assert.Equal(t, k1, k2)
}

func TestStoreAndRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, testLogger())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "out.bin"), []byte("artifact"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "f.txt"), []byte("nested-content"), 0644))

	key := "deadbeef"
	require.NoError(t, c.Store(key, src))
	assert.True(t, c.Has(key))

	restoreDir := t.TempDir()
	require.NoError(t, c.Restore(key, restoreDir))

	data, err := os.ReadFile(filepath.Join(restoreDir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "artifact", string(data))

	nested, err := os.ReadFile(filepath.Join(restoreDir, "nested", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested-content", string(nested))

	_, err = os.Stat(filepath.Join(root, key, ".touch"))
	assert.NoError(t, err)
}

func TestRestoreMissingEntryFails(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, testLogger())
	require.NoError(t, err)

	err = c.Restore("nonexistent", t.TempDir())
	assert.Error(t, err)
}
