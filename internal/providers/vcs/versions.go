package vcs

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/appyard/appyard/internal/shared/version"
)

// maxDiffNotes caps the release notes collected between two versions.
const maxDiffNotes = 10

// Versions is the outcome of a tag refresh.
type Versions struct {
	Available []string // version tags, newest first
	Current   string   // tag of the current checkout, or its commit id
}

// RefreshVersions fetches remote tags and returns the version tags newest
// first, plus the tag the current checkout sits on (falling back to the
// bare commit id when HEAD is untagged). A tag named "lts" marks the
// oldest version still offered: everything older is dropped from the
// list.
func (s *Service) RefreshVersions(ctx context.Context, repoPath string, em Emitter) (Versions, error) {
	mu := s.lockFor(repoPath)
	mu.Lock()
	defer mu.Unlock()

	em.Info("Fetching tags...")
	err := s.withRetry(ctx, func() error {
		return s.runStreaming(ctx, repoPath, em, "fetch", "--progress", "--prune", "origin",
			"+refs/tags/*:refs/tags/*")
	})
	if err != nil {
		return Versions{}, repoErr("fetch", repoPath, err)
	}

	commits, err := s.tagCommits(ctx, repoPath)
	if err != nil {
		return Versions{}, repoErr("tags", repoPath, err)
	}

	tags := make([]string, 0, len(commits))
	for tag := range commits {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	available := version.SortDesc(tags)

	head, err := s.read(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return Versions{}, repoErr("head", repoPath, err)
	}

	current := head
	for _, tag := range available {
		if commits[tag] == head {
			current = tag
			break
		}
	}

	if ltsCommit, ok := commits["lts"]; ok {
		for i, tag := range available {
			if commits[tag] == ltsCommit {
				available = available[:i+1]
				break
			}
		}
	}

	return Versions{Available: available, Current: current}, nil
}

// tagCommits maps every tag to the commit it peels to. Annotated tags
// resolve through their tag object, lightweight tags point at the commit
// directly.
func (s *Service) tagCommits(ctx context.Context, repoPath string) (map[string]string, error) {
	out, err := s.read(ctx, repoPath, "for-each-ref", "refs/tags",
		"--format=%(refname:short)%00%(objectname)%00%(*objectname)")
	if err != nil {
		return nil, err
	}

	commits := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x00")
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		commit := parts[1]
		if parts[2] != "" {
			commit = parts[2]
		}
		commits[parts[0]] = commit
	}
	return commits, nil
}

// Checkout moves the repository to a version tag: fetches exactly that
// tag, force-checks-out its tree with a detached HEAD, and refreshes
// submodules. Local modifications are discarded. Returns the commit id
// the tag resolved to.
func (s *Service) Checkout(ctx context.Context, repoPath, tag string, em Emitter) (string, error) {
	mu := s.lockFor(repoPath)
	mu.Lock()
	defer mu.Unlock()

	em.Info(fmt.Sprintf("Fetching %s...", tag))
	refspec := fmt.Sprintf("+refs/tags/%s:refs/tags/%s", tag, tag)
	err := s.withRetry(ctx, func() error {
		return s.runStreaming(ctx, repoPath, em, "fetch", "--progress", "origin", refspec)
	})
	if err != nil {
		return "", repoErr("fetch", repoPath, err)
	}

	if err := s.run(ctx, repoPath, "checkout", "--force", "--detach", "refs/tags/"+tag); err != nil {
		return "", repoErr("checkout", repoPath, err)
	}

	commit, err := s.read(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", repoErr("head", repoPath, err)
	}

	if err := s.updateSubmodules(ctx, repoPath, em); err != nil {
		return "", err
	}

	em.Info(fmt.Sprintf("Checked out %s (%.12s).", tag, commit))
	return commit, nil
}

// DiffNotes collects the commit messages reachable from the target tag
// but not from the current checkout, newest first: merge commits are
// skipped, lines are de-duplicated and capped, and HTML markup is
// stripped. When the range is empty (the target is the current commit or
// behind it) the target commit's own message is returned instead.
func (s *Service) DiffNotes(ctx context.Context, repoPath, target string) ([]string, error) {
	mu := s.lockFor(repoPath)
	mu.Lock()
	defer mu.Unlock()

	ref := "refs/tags/" + target
	if _, err := s.read(ctx, repoPath, "rev-parse", "--verify", ref+"^{commit}"); err != nil {
		refspec := fmt.Sprintf("+refs/tags/%s:refs/tags/%s", target, target)
		fetchErr := s.withRetry(ctx, func() error {
			return s.run(ctx, repoPath, "fetch", "origin", refspec)
		})
		if fetchErr != nil {
			return nil, repoErr("fetch", repoPath, fetchErr)
		}
	}

	out, err := s.read(ctx, repoPath, "log", "--no-merges", "--pretty=format:%B%x00", ref, "--not", "HEAD")
	if err != nil {
		return nil, repoErr("log", repoPath, err)
	}

	notes := collectNotes(strings.Split(out, "\x00"), maxDiffNotes)
	if len(notes) == 0 {
		message, err := s.read(ctx, repoPath, "log", "-1", "--pretty=format:%B", ref)
		if err != nil {
			return nil, repoErr("log", repoPath, err)
		}
		notes = collectNotes([]string{message}, 0)
	}

	for i, note := range notes {
		notes[i] = html.UnescapeString(s.sanitizer.Sanitize(note))
	}
	return notes, nil
}

// collectNotes flattens commit messages into trimmed, de-duplicated,
// non-empty lines. A limit of 0 means unlimited.
func collectNotes(messages []string, limit int) []string {
	var notes []string
	seen := make(map[string]struct{})
	for _, message := range messages {
		for _, line := range strings.Split(message, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, ok := seen[line]; ok {
				continue
			}
			seen[line] = struct{}{}
			notes = append(notes, line)
			if limit > 0 && len(notes) >= limit {
				return notes
			}
		}
	}
	return notes
}
