package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBundleWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: v1\n"), 0644))

	reloaded := make(chan string, 4)
	w, err := New(path, 20*time.Millisecond, func(_ context.Context, p string) error {
		select {
		case reloaded <- p:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "starting twice is a no-op")

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("name: v2\n"), 0644))

	select {
	case p := <-reloaded:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, abs, p)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}

	w.Stop()
	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.GreaterOrEqual(t, stats.Reloads, 1)
	assert.Zero(t, stats.Errors)
}

func TestBundleWatcher_ReloadErrorCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	failed := make(chan struct{}, 4)
	w, err := New(path, 10*time.Millisecond, func(context.Context, string) error {
		select {
		case failed <- struct{}{}:
		default:
		}
		return errors.New("bad bundle")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Run starts asynchronously; keep touching the file until a reload fires.
	deadline := time.After(5 * time.Second)
	for fired := false; !fired; {
		require.NoError(t, os.WriteFile(path, []byte("b"), 0644))
		select {
		case <-failed:
			fired = true
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("reload not triggered")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.GreaterOrEqual(t, w.Stats().Errors, 1)
}

func TestBundleWatcher_MissingDirectory(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing", "bundle.yaml"), 0, func(context.Context, string) error { return nil })
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}
