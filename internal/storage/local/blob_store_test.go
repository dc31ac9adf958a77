// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "artifacts")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(tempDir, 0o700)
		})
		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesAndOverwrites", func(t *testing.T) {
		uri, err := store.PutObject(ctx, "product.csv", "text/csv", strings.NewReader("id,name\n1,X\n2,Y\n"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "product.csv"), uri)

		_, err = store.PutObject(ctx, "product.csv", "text/csv", strings.NewReader("id,name\n"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, "product.csv"))
		require.NoError(t, err)
		assert.Equal(t, "id,name\n", string(got), "shorter content must truncate the old file")
	})

	t.Run("NestedPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "tiki/2024/product-id.txt", "text/plain", strings.NewReader("1\n2"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, "tiki", "2024", "product-id.txt"))
		require.NoError(t, err)
		assert.Equal(t, "1\n2", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", strings.NewReader("data"))
		assert.Error(t, err)
	})
}
