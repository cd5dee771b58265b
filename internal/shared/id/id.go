// Package id mints the identifiers that correlate everything the
// orchestrator emits: tasks, stream events, API requests.
//
// Every id is a ULID drawn from one monotonic entropy source, so ids
// minted within the same millisecond still sort in generation order.
// Stream resume depends on that: clients hand back the last event id
// they saw, and the hub finds the cut by plain string comparison.
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskID identifies one dispatched task.
type TaskID string

// EventID identifies one hub event. Event ids carry no prefix so the
// stream's since-cursor stays a plain, comparable ULID.
type EventID string

// RequestID identifies one API request in logs and response headers.
type RequestID string

func (id TaskID) String() string    { return string(id) }
func (id EventID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }

// Prefixes keep log lines self-describing.
const (
	TaskPrefix    = "task"
	RequestPrefix = "req"
)

// Generator mints ULIDs from a single locked entropy stream.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewGenerator returns a generator with monotonic entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate mints one ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

var (
	defaultGen  *Generator
	defaultOnce sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	defaultOnce.Do(func() { defaultGen = NewGenerator() })
	return defaultGen
}

// NewTaskID mints a task id.
func NewTaskID() TaskID {
	return TaskID(TaskPrefix + "_" + Default().Generate().String())
}

// NewEventID mints an event id.
func NewEventID() EventID {
	return EventID(Default().Generate().String())
}

// NewRequestID mints a request id.
func NewRequestID() RequestID {
	return RequestID(RequestPrefix + "_" + Default().Generate().String())
}

// IsValid reports whether s parses as a ULID. The stream handler vets
// client-supplied since-cursors with it.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
