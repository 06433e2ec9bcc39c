package fsutil

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return os.ErrNotExist
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return stderrors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c.txt")
	require.NoError(t, WriteFile(context.Background(), target, []byte("hi")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "index.html")
	require.NoError(t, WriteFile(t.Context(), target, []byte("old")))

	small := "<p>short</p>"
	large := strings.Repeat("<p>long</p>", 4096)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content := small
			if i%2 == 0 {
				content = large
			}
			assert.NoError(t, WriteFile(t.Context(), target, []byte(content)))
		}()
	}
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(target)
			if assert.NoError(t, err) {
				s := string(data)
				assert.True(t, s == "old" || s == small || s == large, "torn read of %d bytes", len(s))
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-readerDone

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.html", entries[0].Name())
}

func TestWriteFileErrorIsRetryableFilesystemError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := WriteFile(t.Context(), filepath.Join(blocker, "child.txt"), []byte("x"))
	require.Error(t, err)
	root, ok := errors.Root(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryFileSystem, root.Category())
	assert.True(t, root.CanRetry())
}

func TestCleanDirKeepsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "main.js"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("x"), 0o600))

	require.NoError(t, CleanDir(context.Background(), dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanDirCreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	require.NoError(t, CleanDir(context.Background(), dir))
	_, err := os.Stat(dir)
	assert.NoError(t, err)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "fonts", "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "fonts", "sub", "a.woff"), []byte("font"), 0o600))

	require.NoError(t, CopyTree(context.Background(), src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "fonts", "sub", "a.woff"))
	require.NoError(t, err)
	assert.Equal(t, "font", string(data))

	assert.NoError(t, CopyTree(context.Background(), filepath.Join(src, "nope"), dst))
}

func TestWriteFileErrorIsClassified(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := WriteFile(context.Background(), filepath.Join(blocker, "child.txt"), []byte("y"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryFileSystem))
}
