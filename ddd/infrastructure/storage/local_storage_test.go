package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/failure"
)

func TestLocalStorage_Deliver(t *testing.T) {
	src := filepath.Join(t.TempDir(), "heat.mp4")
	require.NoError(t, os.WriteFile(src, []byte("movie"), 0o644))
	root := t.TempDir()
	store := NewLocalStorage(root)

	url, err := store.Deliver(context.Background(), src, "/media/req-1/heat.mp4", "video/mp4")
	require.NoError(t, err)

	dst := filepath.Join(root, "media", "req-1", "heat.mp4")
	assert.Equal(t, "file://"+dst, url)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "movie", string(data))
}

func TestLocalStorage_RejectsBadInput(t *testing.T) {
	store := NewLocalStorage(t.TempDir())

	_, err := store.Deliver(context.Background(), filepath.Join(t.TempDir(), "missing"), "a/b.mp4", "")
	assert.True(t, failure.IsPermanent(err))

	src := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	_, err = store.Deliver(context.Background(), src, "../../etc/x", "")
	assert.True(t, failure.IsPermanent(err))
}
