package app

import (
	"sort"
	"sync"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/monitoring"
	"github.com/appyard/appyard/internal/shared/types"
)

// Manager holds the in-memory application registry. Callers only ever see
// copies; mutation happens through Update under the registry lock, so a
// snapshot never observes a half-applied change.
type Manager struct {
	mu      sync.RWMutex
	apps    map[string]*types.App // Protected by mu
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewManager creates an empty registry.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		apps: make(map[string]*types.App),
		log:  log.Component("registry"),
	}
}

// WithMetrics adds gauge tracking to the registry.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Get retrieves a copy of the named app.
func (m *Manager) Get(name string) (types.App, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[name]
	if !ok {
		return types.App{}, false
	}
	return app.Clone(), true
}

// List returns name-sorted copies of every registered app.
func (m *Manager) List() []types.App {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.App, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered app names in no particular order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.apps))
	for name := range m.apps {
		out = append(out, name)
	}
	return out
}

// Put inserts or replaces an app entry.
func (m *Manager) Put(app types.App) {
	clone := app.Clone()
	m.mu.Lock()
	m.apps[app.Name] = &clone
	m.syncGauges()
	m.mu.Unlock()
}

// Update mutates the named app under the registry lock and returns the
// resulting copy. The callback sees the live entry, so it must not block.
func (m *Manager) Update(name string, fn func(*types.App)) (types.App, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[name]
	if !ok {
		return types.App{}, false
	}
	fn(app)
	m.syncGauges()
	return app.Clone(), true
}

// Remove deletes the named app entry.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[name]; !ok {
		return false
	}
	delete(m.apps, name)
	m.syncGauges()
	return true
}

// Stats summarizes the registry.
func (m *Manager) Stats() types.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := types.Stats{TotalApps: len(m.apps)}
	for _, app := range m.apps {
		if app.Installed {
			stats.InstalledApps++
		}
		if app.Running {
			stats.RunningApps++
		}
	}
	return stats
}

// syncGauges pushes installed/running counts; callers hold mu.
func (m *Manager) syncGauges() {
	if m.metrics == nil {
		return
	}
	installed, running := 0, 0
	for _, app := range m.apps {
		if app.Installed {
			installed++
		}
		if app.Running {
			running++
		}
	}
	m.metrics.SetAppCounts(installed, running)
}
