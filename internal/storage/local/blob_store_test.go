package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/payparse/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots", "nested")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		// #nosec G302 -- read-only directory for the writability probe.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

		_, err := local.New(local.Config{BaseDir: dir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesSnapshot", func(t *testing.T) {
		html := "<html><body>no total here</body></html>"
		uri, err := store.PutObject(ctx, "snapshots/deadbeef/1700000000.html", "text/html", bytes.NewBufferString(html))
		require.NoError(t, err)

		want := filepath.Join(dir, "snapshots", "deadbeef", "1700000000.html")
		assert.Equal(t, "file://"+want, uri)
		got, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, html, string(got))
	})

	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.PutObject(ctx, "a.html", "", bytes.NewBufferString("first"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "a.html", "", bytes.NewBufferString("2"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dir, "a.html"))
		require.NoError(t, err)
		assert.Equal(t, "2", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, " ", "", bytes.NewBufferString("x"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../../etc/passwd", "", bytes.NewBufferString("x"))
		assert.ErrorContains(t, err, "path traversal")
	})
}
