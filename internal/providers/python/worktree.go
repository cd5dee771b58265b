package python

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// syncExcludes are never mirrored into the working tree. Matched
// directories are pruned whole.
var syncExcludes = []string{"**/__pycache__", "**/*.pyc"}

// SyncWorkingTree mirrors the app's repo checkout into its working tree:
// everything except .git and python build artifacts, with the venv
// preserved in place. Stale files from a previous version are removed
// first, so the working tree always matches the checkout exactly.
func (p *Provisioner) SyncWorkingTree(ctx context.Context, appName string, em Emitter) error {
	app := p.layout.App(appName)

	em.Info("Syncing working tree...")
	if err := clearTree(app.Working(), app.Venv()); err != nil {
		return provisionErr("sync", err)
	}
	if err := os.MkdirAll(app.Working(), 0o755); err != nil {
		return provisionErr("sync", err)
	}

	count, err := mirrorTree(ctx, app.Repo(), app.Working())
	if err != nil {
		return provisionErr("sync", err)
	}
	em.Info(fmt.Sprintf("Working tree synced (%d files).", count))
	return nil
}

// clearTree removes everything under dir except the keep entry.
func clearTree(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	keepName := filepath.Base(keep)
	for _, e := range entries {
		if e.Name() == keepName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// mirrorTree copies src into dst with a parallel walk and returns the file
// count. Symlinks are recreated, modes preserved.
func mirrorTree(ctx context.Context, src, dst string) (int64, error) {
	var files atomic.Int64
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, src, func(path string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" || excluded(rel) {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if excluded(rel) {
			return nil
		}
		if err := copyEntry(path, filepath.Join(dst, rel), d); err != nil {
			return err
		}
		files.Add(1)
		return nil
	})
	return files.Load(), err
}

func excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range syncExcludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func copyEntry(src, dst string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	// The walk runs in parallel, so a file callback can outrun its
	// directory callback.
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
