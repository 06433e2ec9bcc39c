// Package fsutil holds the filesystem helpers shared by the build tasks:
// retried atomic writes, directory cleaning and tree copies.
package fsutil

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// MaxRetries bounds how often a failing filesystem operation is retried.
const MaxRetries = 3

// Retry runs op with exponential backoff. Errors that cannot improve by
// waiting (missing files, permission problems) are not retried.
func Retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	operation := func() error {
		err := op()
		if err != nil && (stderrors.Is(err, fs.ErrNotExist) || stderrors.Is(err, fs.ErrPermission)) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx))
}

// WriteFile writes data to a temporary file next to path and renames it
// into place, creating parent directories as needed. Readers see either the
// old or the new contents.
func WriteFile(ctx context.Context, path string, data []byte) error {
	err := Retry(ctx, func() error {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
		if err != nil {
			return err
		}
		defer func() { _ = os.Remove(tmp.Name()) }()
		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), path)
	})
	if err != nil {
		return errors.FileSystemError("failed to write file").WithCause(err).
			WithContext("path", path).
			Build()
	}
	return nil
}

// CleanDir removes everything inside dir but keeps dir itself, so that
// watchers and servers holding the directory stay valid. A missing dir is
// created.
func CleanDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0o750)
	}
	if err != nil {
		return errors.FileSystemError("failed to read directory").WithCause(err).
			WithContext("path", dir).
			Build()
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dir, entry.Name())
		if err := Retry(ctx, func() error { return os.RemoveAll(target) }); err != nil {
			return errors.FileSystemError("failed to remove path").WithCause(err).
				WithContext("path", target).
				Build()
		}
	}
	return nil
}

// CopyTree recursively copies src into dst. A missing src is not an error.
func CopyTree(ctx context.Context, src, dst string) error {
	srcInfo, err := os.Stat(src)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.FileSystemError("failed to stat source").WithCause(err).
			WithContext("path", src).
			Build()
	}
	if !srcInfo.IsDir() {
		return copyFile(ctx, src, dst)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(ctx, p, target)
	})
}

func copyFile(ctx context.Context, src, dst string) error {
	err := Retry(ctx, func() error {
		in, err := os.Open(src) // #nosec G304 -- src comes from the configured source tree
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return err
		}
		out, err := os.Create(dst) // #nosec G304 -- dst is under the configured dist tree
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			_ = out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		return errors.FileSystemError("failed to copy file").WithCause(err).
			WithContext("path", src).
			Build()
	}
	return nil
}
