package python

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/appyard/appyard/internal/infrastructure/fetch"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/paths"
)

// Emitter receives human-readable output lines from provisioning steps.
// Progress lines replace the previously rendered line, Info lines append.
type Emitter interface {
	Info(message string)
	Progress(message string)
}

// ProvisionError wraps a failed provisioning step with its name.
type ProvisionError struct {
	Step string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

func provisionErr(step string, err error) *ProvisionError {
	return &ProvisionError{Step: step, Err: err}
}

// Provisioner prepares runtimes, working trees, and virtual environments.
type Provisioner struct {
	log    *logging.Logger
	layout paths.Layout
	fetch  *fetch.Client
}

// NewProvisioner returns a provisioner rooted at the given layout.
func NewProvisioner(layout paths.Layout, client *fetch.Client, log *logging.Logger) *Provisioner {
	return &Provisioner{
		log:    log.Component("python"),
		layout: layout,
		fetch:  client,
	}
}

// runStreaming executes a subprocess relaying its combined output to the
// emitter line by line.
func (p *Provisioner) runStreaming(ctx context.Context, dir string, em Emitter, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	lw := &lineWriter{em: em}
	cmd.Stdout = lw
	cmd.Stderr = lw
	err := cmd.Run()
	lw.Flush()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, lw.last)
	}
	return nil
}

// lineWriter splits subprocess output into emitter lines. A line ending in
// \r is an in-place progress update (pip renders download bars that way).
type lineWriter struct {
	em   Emitter
	buf  []byte
	last string
}

func (w *lineWriter) Write(p []byte) (int, error) {
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
func (w *lineWriter) Flush() {
	if line := strings.TrimSpace(string(w.buf)); line != "" {
		w.last = line
		w.em.Info(line)
	}
	w.buf = w.buf[:0]
}
