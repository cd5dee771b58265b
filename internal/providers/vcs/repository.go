package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// EnsureRepository makes repoPath a valid clone of gitURL. An existing
// repository is re-pointed at the URL if it moved and fetched; a directory
// that is not a repository is removed and cloned fresh. New clones land in
// a temporary sibling directory and are renamed into place only on
// success, so an interrupted clone never leaves a half-written repo
// behind.
func (s *Service) EnsureRepository(ctx context.Context, repoPath, gitURL string, em Emitter) error {
	mu := s.lockFor(repoPath)
	mu.Lock()
	defer mu.Unlock()

	if _, err := os.Stat(repoPath); err == nil {
		if _, err := s.read(ctx, repoPath, "rev-parse", "--git-dir"); err == nil {
			return s.fetchExisting(ctx, repoPath, gitURL, em)
		}
		s.log.Warn("directory is not a git repository, recloning",
			zap.String("path", repoPath))
		if err := os.RemoveAll(repoPath); err != nil {
			return repoErr("clean", repoPath, err)
		}
	}
	return s.clone(ctx, repoPath, gitURL, em)
}

func (s *Service) fetchExisting(ctx context.Context, repoPath, gitURL string, em Emitter) error {
	em.Info("Repository already exists, fetching updates...")

	if current, err := s.read(ctx, repoPath, "remote", "get-url", "origin"); err != nil {
		if addErr := s.run(ctx, repoPath, "remote", "add", "origin", gitURL); addErr != nil {
			return repoErr("remote", repoPath, addErr)
		}
	} else if current != gitURL {
		em.Info(fmt.Sprintf("Updating remote origin to %s", gitURL))
		if err := s.run(ctx, repoPath, "remote", "set-url", "origin", gitURL); err != nil {
			return repoErr("remote", repoPath, err)
		}
	}

	err := s.withRetry(ctx, func() error {
		return s.runStreaming(ctx, repoPath, em, "fetch", "--progress", "--prune", "origin",
			"+refs/heads/*:refs/remotes/origin/*", "+refs/tags/*:refs/tags/*")
	})
	if err != nil {
		return repoErr("fetch", repoPath, err)
	}
	em.Info("Fetch complete.")
	return nil
}

func (s *Service) clone(ctx context.Context, repoPath, gitURL string, em Emitter) error {
	em.Info(fmt.Sprintf("Cloning %s...", gitURL))

	if err := os.MkdirAll(filepath.Dir(repoPath), 0o755); err != nil {
		return repoErr("clone", repoPath, err)
	}

	tmp := repoPath + ".cloning"
	err := s.withRetry(ctx, func() error {
		if err := os.RemoveAll(tmp); err != nil {
			return err
		}
		return s.runStreaming(ctx, "", em, "clone", "--progress", gitURL, tmp)
	})
	if err != nil {
		_ = os.RemoveAll(tmp)
		return repoErr("clone", repoPath, err)
	}

	if err := os.Rename(tmp, repoPath); err != nil {
		_ = os.RemoveAll(tmp)
		return repoErr("clone", repoPath, err)
	}

	if err := s.updateSubmodules(ctx, repoPath, em); err != nil {
		return err
	}
	em.Info("Clone complete.")
	return nil
}

// updateSubmodules initializes nested repositories after a clone or
// checkout. A repository without submodules is a cheap no-op.
func (s *Service) updateSubmodules(ctx context.Context, repoPath string, em Emitter) error {
	err := s.runStreaming(ctx, repoPath, em, "submodule", "update", "--init", "--recursive", "--progress")
	if err != nil {
		return repoErr("submodule", repoPath, err)
	}
	return nil
}
