package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "knowledge.md")
	require.NoError(t, os.WriteFile(p, []byte(docV1), 0o600))

	c := NewCache(FileLoader(p), 0)
	require.NoError(t, c.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, p, c) }()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("x"), 0o600))

	require.Eventually(t, func() bool {
		// Keep writing until the watcher is registered and sees a change.
		_ = os.WriteFile(p, []byte(docV2), 0o600)
		_, fresh := c.current()
		return !fresh
	}, 5*time.Second, 50*time.Millisecond)

	got, err := c.Search(context.Background(), "library", 1)
	require.NoError(t, err)
	require.Equal(t, docV2, got[0].Text)

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_MissingDirectory(t *testing.T) {
	c := NewCache(FileLoader("x"), 0)
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", "k.md"), c)
	require.Error(t, err)
}
