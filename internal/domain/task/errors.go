package task

import (
	"errors"
	"fmt"
)

// Sentinels the API layer maps to HTTP statuses. Everything that happens
// inside a running pipeline is reported through the event stream instead.
var (
	ErrBusy           = errors.New("app is busy")
	ErrUnknownApp     = errors.New("unknown app")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrUnknownVersion = errors.New("unknown version")
	ErrNotInstalled   = errors.New("app is not installed")
	ErrAlreadyRunning = errors.New("app is already running")
	ErrNotRunning     = errors.New("app is not running")
)

// BusyError reports slot contention with what currently holds the slot.
type BusyError struct {
	App  string
	Kind Kind
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s is busy: %s in progress", e.App, e.Kind)
}

// Is lets errors.Is(err, ErrBusy) match without losing the kind.
func (e *BusyError) Is(target error) bool { return target == ErrBusy }

func unknownApp(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownApp, name)
}
