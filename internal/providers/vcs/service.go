package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/backoff"
)

// fetchAttempts bounds retries for git operations that touch the network.
const fetchAttempts = 3

// Emitter receives human-readable output lines from git operations.
// Progress lines replace the previously rendered line, Info lines append.
type Emitter interface {
	Info(message string)
	Progress(message string)
}

// RepositoryError wraps a failed git operation with its repository path.
type RepositoryError struct {
	Op   string
	Path string
	Err  error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("git %s in %s: %v", e.Op, e.Path, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func repoErr(op, path string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Path: path, Err: err}
}

// Service runs git operations for application repositories.
type Service struct {
	log       *logging.Logger
	sanitizer *bluemonday.Policy
	locks     sync.Map // repository path -> *sync.Mutex
}

// NewService returns a git-backed version resolver.
func NewService(log *logging.Logger) *Service {
	return &Service{
		log:       log.Component("vcs"),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// lockFor serializes operations on the same repository path.
func (s *Service) lockFor(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	// Fail instead of hanging on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// run executes a mutating git command, folding its output into the error.
func (s *Service) run(ctx context.Context, dir string, args ...string) error {
	out, err := s.command(ctx, dir, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// read executes a querying git command and returns its trimmed stdout.
func (s *Service) read(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := s.command(ctx, dir, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// runStreaming executes a git command relaying its terminal output to the
// emitter, for long transfers run with --progress.
func (s *Service) runStreaming(ctx context.Context, dir string, em Emitter, args ...string) error {
	cmd := s.command(ctx, dir, args...)
	pw := &progressWriter{em: em}
	cmd.Stdout = pw
	cmd.Stderr = pw
	err := cmd.Run()
	pw.Flush()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, pw.last)
	}
	return nil
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	return backoff.Retry(ctx, fetchAttempts, backoff.New(time.Second, 8*time.Second), fn)
}

// progressWriter splits git's terminal output into emitter lines. git ends
// in-place progress lines with \r and final lines with \n.
type progressWriter struct {
	em   Emitter
	buf  []byte
	last string
}

func (w *progressWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b != '\r' && b != '\n' {
			w.buf = append(w.buf, b)
			continue
		}
		line := strings.TrimSpace(string(w.buf))
		w.buf = w.buf[:0]
		if line == "" {
			continue
		}
		w.last = line
		if b == '\r' {
			w.em.Progress(line)
		} else {
			w.em.Info(line)
		}
	}
	return len(p), nil
}

// Flush emits whatever is still buffered as a final line.
func (w *progressWriter) Flush() {
	if line := strings.TrimSpace(string(w.buf)); line != "" {
		w.last = line
		w.em.Info(line)
	}
	w.buf = w.buf[:0]
}
