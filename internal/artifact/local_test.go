package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSaveWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(LocalConfig{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.Save(context.Background(), "failures/job-1/123.html", "text/html", []byte("<html>boom</html>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "failures", "job-1", "123.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>boom</html>", string(data))
}

func TestLocalSaveRejectsTraversal(t *testing.T) {
	store, err := NewLocal(LocalConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "../escape.html", "text/html", []byte("x"))
	assert.Error(t, err)
}

func TestNewLocalCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	_, err := NewLocal(LocalConfig{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewLocalRequiresBaseDir(t *testing.T) {
	_, err := NewLocal(LocalConfig{})
	assert.Error(t, err)
}

func TestNoopSave(t *testing.T) {
	uri, err := NewNoop().Save(context.Background(), "x", "text/html", nil)
	require.NoError(t, err)
	assert.Empty(t, uri)
}
