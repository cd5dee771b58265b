package task

import (
	"strings"

	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/events"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/types"
)

// appEmitter turns provider output lines into app-log events for one
// application. It satisfies the emitter interfaces of the vcs, python,
// and process providers, so one instance rides through a whole pipeline.
type appEmitter struct {
	hub *events.Hub
	app string
	log *logging.Logger
}

func (d *Dispatcher) emitter(app string) *appEmitter {
	return &appEmitter{hub: d.hub, app: app, log: d.log}
}

// Info appends a log line. A trailing bare carriage return downgrades
// the line to an in-place update, mirroring how meters redraw.
func (e *appEmitter) Info(message string) {
	if m, ok := strings.CutSuffix(message, "\r"); ok {
		e.publish(m, true, false, false)
		return
	}
	e.publish(message, false, false, false)
}

// Progress replaces the previously rendered line.
func (e *appEmitter) Progress(message string) {
	e.publish(strings.TrimSuffix(message, "\r"), true, false, false)
}

// Error appends an error line. Empty error lines carry nothing and are
// dropped.
func (e *appEmitter) Error(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	e.publish(message, false, false, true)
}

// finish emits the terminal event for a task: an empty success marker or
// the human-readable failure.
func (e *appEmitter) finish(err error) {
	if err != nil {
		e.publish(err.Error(), false, true, true)
		return
	}
	e.publish("", false, true, false)
}

func (e *appEmitter) publish(message string, update, finished, isErr bool) {
	e.hub.Publish(types.EventAppLog, types.LogEvent{
		AppName:  e.app,
		Message:  message,
		Update:   update,
		Finished: finished,
		Error:    isErr,
	})
	switch {
	case isErr:
		e.log.Warn("app log", zap.String("app", e.app), zap.String("message", message), zap.Bool("finished", finished))
	case finished:
		e.log.Info("task finished", zap.String("app", e.app))
	default:
		e.log.Debug("app log", zap.String("app", e.app), zap.String("message", message))
	}
}
