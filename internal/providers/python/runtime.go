package python

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/shared/paths"
)

// runtimePrefix is the single top-level directory inside standalone-build
// archives; it is stripped during extraction.
const runtimePrefix = "python/"

// Runtime identifies a provisioned interpreter from the shared cache.
type Runtime struct {
	Version    string // exact patch version, e.g. 3.12.10
	Python     string // interpreter path
	Downloaded bool   // false when the cached runtime was reused
}

// EnsureRuntime resolves a required version against the known-release
// table and makes sure that interpreter exists in the shared cache. A
// cached runtime is returned as-is; otherwise the standalone-build archive
// is downloaded (upstream first, regional mirror as fallback), verified by
// content type, and extracted. A failed extraction removes the partial
// directory so the next attempt starts clean.
func (p *Provisioner) EnsureRuntime(ctx context.Context, required string, em Emitter) (Runtime, error) {
	rel, ok := ReleaseFor(required)
	if !ok {
		return Runtime{}, provisionErr("runtime", fmt.Errorf(
			"unsupported python version %q (supported: %s)",
			required, strings.Join(SupportedVersions(), ", ")))
	}

	dir := p.layout.PythonVersionDir(rel.Patch)
	python := paths.RuntimePython(dir)
	if _, err := os.Stat(python); err == nil {
		em.Info(fmt.Sprintf("Python %s already provisioned.", rel.Patch))
		return Runtime{Version: rel.Patch, Python: python}, nil
	}

	archive, err := rel.Archive()
	if err != nil {
		return Runtime{}, provisionErr("runtime", err)
	}

	archivePath := filepath.Join(p.layout.PythonDir(), archive.Name)
	if err := p.download(ctx, rel, archive, archivePath, em); err != nil {
		return Runtime{}, provisionErr("download", err)
	}
	defer os.Remove(archivePath)

	em.Info(fmt.Sprintf("Extracting %s...", archive.Name))
	if err := extractRuntime(ctx, archivePath, dir); err != nil {
		os.RemoveAll(dir)
		return Runtime{}, provisionErr("extract", err)
	}
	if _, err := os.Stat(python); err != nil {
		os.RemoveAll(dir)
		return Runtime{}, provisionErr("extract", fmt.Errorf("interpreter missing after extraction: %s", python))
	}

	em.Info(fmt.Sprintf("Python %s ready.", rel.Patch))
	return Runtime{Version: rel.Patch, Python: python, Downloaded: true}, nil
}

func (p *Provisioner) download(ctx context.Context, rel Release, archive Archive, dest string, em Emitter) error {
	lastPct := int64(-1)
	lastBytes := int64(0)
	progress := func(done, total int64) {
		if total > 0 {
			if pct := done * 100 / total; pct != lastPct {
				lastPct = pct
				em.Progress(fmt.Sprintf("Downloading Python %s: %d%% (%s / %s)",
					rel.Patch, pct, humanBytes(done), humanBytes(total)))
			}
			return
		}
		if done-lastBytes >= 4<<20 {
			lastBytes = done
			em.Progress(fmt.Sprintf("Downloading Python %s: %s", rel.Patch, humanBytes(done)))
		}
	}

	em.Info(fmt.Sprintf("Downloading Python %s...", rel.Patch))
	err := p.fetch.Download(ctx, archive.Upstream, dest, progress)
	if err == nil {
		return nil
	}

	p.log.Warn("upstream runtime download failed, trying mirror",
		zap.String("url", archive.Upstream),
		zap.Error(err))
	em.Info("Upstream download failed, trying mirror...")
	if merr := p.fetch.Download(ctx, archive.Mirror, dest, progress); merr != nil {
		return fmt.Errorf("mirror: %w (upstream: %v)", merr, err)
	}
	return nil
}

// extractRuntime unpacks a runtime archive into dest, stripping the
// python/ prefix. The decompressor is chosen by detected content type, not
// file extension. Entries that would land outside dest are skipped.
func extractRuntime(ctx context.Context, archivePath, dest string) error {
	mt, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return fmt.Errorf("detect archive type: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var tr *tar.Reader
	switch {
	case mt.Is("application/gzip"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	case mt.Is("application/zstd"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		tr = tar.NewReader(zr)
	default:
		return fmt.Errorf("unexpected archive content type %s", mt.String())
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	base := filepath.Clean(dest) + string(os.PathSeparator)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimPrefix(header.Name, runtimePrefix)
		if name == "" || name == "." {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, base) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				continue
			}
			if resolved := filepath.Join(filepath.Dir(target), header.Linkname); !strings.HasPrefix(resolved, base) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
		case tar.TypeLink:
			source := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(header.Linkname, runtimePrefix)))
			if !strings.HasPrefix(source, base) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
