package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apps "github.com/appyard/appyard/internal/domain/app"
	"github.com/appyard/appyard/internal/infrastructure/events"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/monitoring"
	"github.com/appyard/appyard/internal/providers/process"
	"github.com/appyard/appyard/internal/providers/python"
	"github.com/appyard/appyard/internal/providers/vcs"
	"github.com/appyard/appyard/internal/shared/id"
	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
	"github.com/appyard/appyard/internal/shared/version"
)

// Versioner is the slice of the vcs provider the dispatcher drives.
type Versioner interface {
	EnsureRepository(ctx context.Context, repoPath, gitURL string, em vcs.Emitter) error
	RefreshVersions(ctx context.Context, repoPath string, em vcs.Emitter) (vcs.Versions, error)
	Checkout(ctx context.Context, repoPath, tag string, em vcs.Emitter) (string, error)
	DiffNotes(ctx context.Context, repoPath, target string) ([]string, error)
}

// Provisioner is the slice of the python provider the dispatcher drives.
type Provisioner interface {
	EnsureRuntime(ctx context.Context, required string, em python.Emitter) (python.Runtime, error)
	EnsureVenv(ctx context.Context, appName string, rt python.Runtime, em python.Emitter) (string, error)
	SyncWorkingTree(ctx context.Context, appName string, em python.Emitter) error
	Install(ctx context.Context, appName string, opts python.InstallOptions, em python.Emitter) (bool, error)
}

// Supervisor is the slice of the process provider the dispatcher drives.
type Supervisor interface {
	Start(ctx context.Context, spec process.StartSpec, em process.Emitter, onExit func(err error)) (int, error)
	Stop(ctx context.Context, appName string, lastPid int, em process.Emitter) error
	Running(appName string) bool
}

// Shield manages antivirus exclusions for install directories.
type Shield interface {
	Excluded(ctx context.Context, dir string) (bool, error)
	Ensure(ctx context.Context, dir string) error
}

// Settings exposes the tunables tasks consult mid-pipeline.
type Settings interface {
	PipCacheDir() string
	PipIndexURL() string
	UpdateMethod() string
	DefaultPythonVersion() string
}

// Deps collects everything a dispatcher needs. Zero optional fields get
// defaults from NewDispatcher.
type Deps struct {
	Layout   paths.Layout
	Registry *apps.Manager
	Loader   *apps.Loader
	Hub      *events.Hub
	Versions Versioner
	Python   Provisioner
	Process  Supervisor
	Shield   Shield
	Settings Settings

	// Manifest is the path of the catalog file listing locally declared
	// apps. It may point at a nonexistent file.
	Manifest string

	// Metrics may be nil; the dispatcher then skips task instrumentation.
	Metrics *monitoring.Metrics

	// Alive probes a pid. Defaults to process.Alive.
	Alive func(pid int) bool

	// LivenessEvery is the crash-detection poll interval.
	LivenessEvery time.Duration

	// RefreshLimit bounds concurrent per-app version refreshes.
	RefreshLimit int

	Log *logging.Logger
}

// Receipt acknowledges an accepted command. When NeedsProfile is set the
// pipeline did not run; the caller must re-issue the command with one of
// Profiles selected.
type Receipt struct {
	TaskID       id.TaskID `json:"task_id,omitempty"`
	NeedsProfile bool      `json:"needs_profile,omitempty"`
	Profiles     []string  `json:"profiles,omitempty"`
}

// Dispatcher owns app lifecycle transitions. Every mutating command claims
// the app's single task slot, runs its pipeline on a fresh goroutine, and
// reports through the event hub; a second command against a busy app fails
// fast with BusyError.
type Dispatcher struct {
	layout   paths.Layout
	registry *apps.Manager
	loader   *apps.Loader
	hub      *events.Hub
	vcs      Versioner
	python   Provisioner
	process  Supervisor
	shield   Shield
	settings Settings
	metrics  *monitoring.Metrics
	manifest string
	alive    func(pid int) bool
	every    time.Duration
	refresh  int
	slots    *slots
	log      *logging.Logger
}

const (
	defaultLivenessEvery = 2 * time.Second
	defaultRefreshLimit  = 4
)

// NewDispatcher wires a dispatcher from its dependencies.
func NewDispatcher(d Deps) *Dispatcher {
	if d.Alive == nil {
		d.Alive = process.Alive
	}
	if d.LivenessEvery <= 0 {
		d.LivenessEvery = defaultLivenessEvery
	}
	if d.RefreshLimit <= 0 {
		d.RefreshLimit = defaultRefreshLimit
	}
	return &Dispatcher{
		layout:   d.Layout,
		registry: d.Registry,
		loader:   d.Loader,
		hub:      d.Hub,
		vcs:      d.Versions,
		python:   d.Python,
		process:  d.Process,
		shield:   d.Shield,
		settings: d.Settings,
		metrics:  d.Metrics,
		manifest: d.Manifest,
		alive:    d.Alive,
		every:    d.LivenessEvery,
		refresh:  d.RefreshLimit,
		slots:    newSlots(),
		log:      d.Log.Component("task"),
	}
}

// Snapshot returns the current app list, name sorted.
func (d *Dispatcher) Snapshot() []types.App {
	return d.registry.List()
}

// Stats summarizes the registry.
func (d *Dispatcher) Stats() types.Stats {
	return d.registry.Stats()
}

// EmitApps broadcasts the full app list to every stream subscriber.
func (d *Dispatcher) EmitApps() {
	d.broadcast()
}

func (d *Dispatcher) broadcast() {
	d.hub.Publish(types.EventApps, d.registry.List())
}

// Setup installs the app or switches it to another profile. An installed
// app re-running setup on its current profile is reprovisioned in place.
// When profile is empty and the uninstalled app declares several, no task
// starts; the caller gets the candidates back and a choose_app_profile
// event goes out.
func (d *Dispatcher) Setup(ctx context.Context, name, profile string) (Receipt, error) {
	a, ok := d.registry.Get(name)
	if !ok {
		return Receipt{}, unknownApp(name)
	}
	if profile == "" {
		if !a.Installed && len(a.Profiles) > 1 {
			d.hub.Publish(types.EventChooseProfile, a)
			return Receipt{NeedsProfile: true, Profiles: profileNames(a.Profiles)}, nil
		}
		profile = a.CurrentProfile
	}
	if !hasProfile(a.Profiles, profile) {
		return Receipt{}, fmt.Errorf("%w: %s has no profile %q", ErrUnknownProfile, name, profile)
	}

	kind := KindInstalling
	if a.Installed && profile != a.CurrentProfile {
		kind = KindChangingProfile
	}
	return d.runTask(name, kind, func(ctx context.Context, em *appEmitter) error {
		return d.provision(ctx, name, profile, "", "", kind, em)
	})
}

// Update moves an installed, stopped app to the requested tag. The task
// kind reflects the direction of travel relative to the current version.
// A non-empty requirements path overrides the profile's dependency spec
// for this one run.
func (d *Dispatcher) Update(ctx context.Context, name, target, requirements string) (Receipt, error) {
	a, ok := d.registry.Get(name)
	if !ok {
		return Receipt{}, unknownApp(name)
	}
	if !a.Installed {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if a.Running || d.process.Running(name) {
		return Receipt{}, fmt.Errorf("%w: stop %s before changing its version", ErrAlreadyRunning, name)
	}
	if !contains(a.AvailableVersions, target) {
		return Receipt{}, fmt.Errorf("%w: %s has no version %q", ErrUnknownVersion, name, target)
	}

	kind := KindSettingVersion
	if a.CurrentVersion != nil {
		switch c := version.CompareTags(target, *a.CurrentVersion); {
		case c > 0:
			kind = KindUpdating
		case c < 0:
			kind = KindDowngrading
		}
	} else {
		kind = KindUpdating
	}
	profile := a.CurrentProfile
	return d.runTask(name, kind, func(ctx context.Context, em *appEmitter) error {
		return d.provision(ctx, name, profile, target, requirements, kind, em)
	})
}

// Start spawns the app's current profile.
func (d *Dispatcher) Start(ctx context.Context, name string) (Receipt, error) {
	a, ok := d.registry.Get(name)
	if !ok {
		return Receipt{}, unknownApp(name)
	}
	if !a.Installed {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if a.Running || d.process.Running(name) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	return d.runTask(name, KindStarting, func(ctx context.Context, em *appEmitter) error {
		return d.spawn(ctx, name, em)
	})
}

// Stop terminates the app's process, escalating to a kill after the
// supervisor's grace period.
func (d *Dispatcher) Stop(ctx context.Context, name string) (Receipt, error) {
	a, ok := d.registry.Get(name)
	if !ok {
		return Receipt{}, unknownApp(name)
	}
	if !a.Running && !d.process.Running(name) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return d.runTask(name, KindStopping, func(ctx context.Context, em *appEmitter) error {
		return d.halt(ctx, name, em)
	})
}

// Delete stops the app if needed, removes its directory tree, and drops it
// from the registry.
func (d *Dispatcher) Delete(ctx context.Context, name string) (Receipt, error) {
	if _, ok := d.registry.Get(name); !ok {
		return Receipt{}, unknownApp(name)
	}
	return d.runTask(name, KindDeleting, func(ctx context.Context, em *appEmitter) error {
		return d.remove(ctx, name, em)
	})
}

// UpdateNotes returns the commit subjects between the current checkout and
// the target tag. Read only; takes no task slot.
func (d *Dispatcher) UpdateNotes(ctx context.Context, name, target string) ([]string, error) {
	a, ok := d.registry.Get(name)
	if !ok {
		return nil, unknownApp(name)
	}
	if !a.Installed {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}
	if target != "" && !contains(a.AvailableVersions, target) {
		return nil, fmt.Errorf("%w: %s has no version %q", ErrUnknownVersion, name, target)
	}
	return d.vcs.DiffNotes(ctx, d.layout.App(name).Repo(), target)
}

// EnsureDefender adds the app's install directory to the antivirus
// exclusion list and clears the advisory flag. Synchronous; elevation
// failures surface to the caller.
func (d *Dispatcher) EnsureDefender(ctx context.Context, name string) error {
	if _, ok := d.registry.Get(name); !ok {
		return unknownApp(name)
	}
	if err := d.shield.Ensure(ctx, d.layout.App(name).Base()); err != nil {
		return err
	}
	d.registry.Update(name, func(a *types.App) { a.ShowAddDefender = false })
	d.broadcast()
	return nil
}

// Busy reports whether a task currently holds the app's slot.
func (d *Dispatcher) Busy(name string) (Kind, bool) {
	return d.slots.Current(name)
}

// runTask claims the app's slot and runs fn on its own goroutine with a
// background context, so client disconnects never abandon an app half
// provisioned. The claimed slot, the task timer, the terminal log event,
// and the refreshed app broadcast are all released in the goroutine.
func (d *Dispatcher) runTask(name string, kind Kind, fn func(ctx context.Context, em *appEmitter) error) (Receipt, error) {
	taskID, release, err := d.slots.Acquire(name, kind)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordTaskBusy()
		}
		return Receipt{}, err
	}

	d.log.Info("task accepted",
		zap.String("task_id", string(taskID)),
		zap.String("app", name),
		zap.String("kind", kind.String()))

	go func() {
		defer release()

		var timer *monitoring.TaskTimer
		if d.metrics != nil {
			timer = monitoring.NewTaskTimer(d.metrics, kind.String())
		}
		em := d.emitter(name)
		err := fn(context.Background(), em)
		em.finish(err)
		if timer != nil {
			timer.Stop(err != nil)
		}
		if err != nil {
			d.log.Warn("task failed",
				zap.String("task_id", string(taskID)),
				zap.String("app", name),
				zap.String("kind", kind.String()),
				zap.Error(err))
		} else {
			d.log.Info("task done",
				zap.String("task_id", string(taskID)),
				zap.String("app", name),
				zap.String("kind", kind.String()))
		}
		d.broadcast()
	}()

	return Receipt{TaskID: taskID}, nil
}

func profileNames(profiles []types.Profile) []string {
	names := make([]string, len(profiles))
	for i := range profiles {
		names[i] = profiles[i].Name
	}
	return names
}

func hasProfile(profiles []types.Profile, name string) bool {
	for i := range profiles {
		if profiles[i].Name == name {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
