package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
)

// DefaultGrace is how long Stop waits between the graceful signal and the
// force kill.
const DefaultGrace = 5 * time.Second

// Emitter receives process lifecycle and output lines. Error lines come
// from stderr; Progress lines replace the previously rendered line.
type Emitter interface {
	Info(message string)
	Progress(message string)
	Error(message string)
}

// ProcessError wraps a failed spawn or termination with the app name.
type ProcessError struct {
	Op  string
	App string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.App, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func procErr(op, app string, err error) *ProcessError {
	return &ProcessError{Op: op, App: app, Err: err}
}

// StartSpec identifies what to spawn.
type StartSpec struct {
	App     string
	Version string // exported as APPYARD_VERSION
	Profile types.Profile
}

// Supervisor spawns, tracks, and stops application processes.
type Supervisor struct {
	log    *logging.Logger
	layout paths.Layout
	grace  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	app     string
	pid     int
	done    chan struct{} // closed after the process is reaped
	waitErr error         // valid once done is closed
	stopped atomic.Bool   // set when Stop initiated the shutdown
}

// NewSupervisor returns a supervisor rooted at the given layout.
func NewSupervisor(layout paths.Layout, grace time.Duration, log *logging.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Supervisor{
		log:      log.Component("process"),
		layout:   layout,
		grace:    grace,
		sessions: make(map[string]*session),
	}
}

// Start spawns the app's entry point in its working tree and begins
// relaying output. The process is tracked until it exits; onExit fires
// only for exits the supervisor did not initiate, after output has
// drained.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec, em Emitter, onExit func(err error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if _, exists := s.sessions[spec.App]; exists {
		s.mu.Unlock()
		return 0, procErr("start", spec.App, errors.New("already running"))
	}
	s.mu.Unlock()

	app := s.layout.App(spec.App)
	name, args, err := resolveEntry(app, spec.Profile.MainScript)
	if err != nil {
		return 0, procErr("start", spec.App, err)
	}

	cmd := buildCommand(name, args, app.Working(), childEnv(app, spec), spec.Profile.IsAdmin())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, procErr("start", spec.App, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, procErr("start", spec.App, fmt.Errorf("stderr pipe: %w", err))
	}

	em.Info(fmt.Sprintf("Starting %s (profile %s)...", spec.App, spec.Profile.Name))
	if err := cmd.Start(); err != nil {
		return 0, procErr("start", spec.App, err)
	}

	sess := &session{app: spec.App, pid: cmd.Process.Pid, done: make(chan struct{})}
	s.mu.Lock()
	s.sessions[spec.App] = sess
	s.mu.Unlock()

	s.log.Info("app started",
		zap.String("app", spec.App),
		zap.String("profile", spec.Profile.Name),
		zap.Int("pid", sess.pid))

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		relay(stdout, em, false)
	}()
	go func() {
		defer streams.Done()
		relay(stderr, em, true)
	}()

	go func() {
		streams.Wait()
		sess.waitErr = cmd.Wait()
		close(sess.done)

		s.mu.Lock()
		if s.sessions[spec.App] == sess {
			delete(s.sessions, spec.App)
		}
		s.mu.Unlock()

		if sess.stopped.Load() {
			return
		}
		s.log.Info("app exited on its own",
			zap.String("app", spec.App),
			zap.Error(sess.waitErr))
		if onExit != nil {
			onExit(sess.waitErr)
		}
	}()

	return sess.pid, nil
}

// Stop ends the app's process. A tracked session gets the graceful
// interrupt, the grace period, then a force kill; an untracked but live
// last-known pid (an orphan from a previous daemon run) is put down
// directly.
func (s *Supervisor) Stop(ctx context.Context, appName string, lastPid int, em Emitter) error {
	s.mu.Lock()
	sess := s.sessions[appName]
	s.mu.Unlock()

	if sess == nil {
		return s.stopOrphan(appName, lastPid, em)
	}

	sess.stopped.Store(true)
	em.Info(fmt.Sprintf("Stopping %s (pid %d)...", appName, sess.pid))
	if err := terminate(sess.pid); err != nil {
		s.log.Warn("graceful signal failed",
			zap.String("app", appName),
			zap.Error(err))
	}

	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case <-sess.done:
		em.Info(fmt.Sprintf("%s stopped.", appName))
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	em.Info(fmt.Sprintf("%s did not exit in time, force killing...", appName))
	if err := kill(sess.pid); err != nil {
		s.log.Error("force kill failed",
			zap.String("app", appName),
			zap.Int("pid", sess.pid),
			zap.Error(err))
	}

	select {
	case <-sess.done:
	case <-time.After(2 * time.Second):
		return procErr("stop", appName, fmt.Errorf("process %d survived the force kill", sess.pid))
	}
	em.Info(fmt.Sprintf("%s stopped.", appName))
	return nil
}

func (s *Supervisor) stopOrphan(appName string, lastPid int, em Emitter) error {
	if lastPid <= 0 || !Alive(lastPid) {
		em.Info("No running process found.")
		return nil
	}

	em.Info(fmt.Sprintf("Stopping orphaned process %d...", lastPid))
	if err := terminate(lastPid); err == nil {
		deadline := time.Now().Add(s.grace)
		for time.Now().Before(deadline) {
			if !Alive(lastPid) {
				em.Info(fmt.Sprintf("%s stopped.", appName))
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
	if err := kill(lastPid); err != nil && Alive(lastPid) {
		return procErr("stop", appName, fmt.Errorf("kill orphaned process %d: %w", lastPid, err))
	}
	em.Info(fmt.Sprintf("%s stopped.", appName))
	return nil
}

// Running reports whether the supervisor tracks a live process for the
// app.
func (s *Supervisor) Running(appName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[appName] != nil
}

func relay(r io.Reader, em Emitter, stderr bool) {
	w := &streamWriter{em: em, stderr: stderr}
	io.Copy(w, r)
	w.Flush()
}
