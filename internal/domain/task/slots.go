package task

import (
	"sync"

	"github.com/appyard/appyard/internal/shared/id"
)

// slots is the per-application exclusion table. One slot per app name;
// acquiring a held slot fails immediately, there is no queue.
type slots struct {
	mu   sync.Mutex
	held map[string]slotInfo
}

type slotInfo struct {
	kind Kind
	id   id.TaskID
}

func newSlots() *slots {
	return &slots{held: make(map[string]slotInfo)}
}

// Acquire claims the app's slot for a task of the given kind and returns
// the task id plus the release func. A held slot yields a BusyError
// carrying whatever is in progress.
func (s *slots) Acquire(app string, kind Kind) (id.TaskID, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.held[app]; ok {
		return "", nil, &BusyError{App: app, Kind: cur.kind}
	}
	tid := id.NewTaskID()
	s.held[app] = slotInfo{kind: kind, id: tid}
	release := func() {
		s.mu.Lock()
		delete(s.held, app)
		s.mu.Unlock()
	}
	return tid, release, nil
}

// Current reports the kind of the task holding the app's slot, if any.
func (s *slots) Current(app string) (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.held[app]
	return cur.kind, ok
}
