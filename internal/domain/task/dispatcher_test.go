package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	apps "github.com/appyard/appyard/internal/domain/app"
	"github.com/appyard/appyard/internal/domain/config"
	"github.com/appyard/appyard/internal/infrastructure/events"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/providers/process"
	"github.com/appyard/appyard/internal/providers/python"
	"github.com/appyard/appyard/internal/providers/vcs"
	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
)

// fakeVersions records repository operations and serves canned tags.
type fakeVersions struct {
	mu        sync.Mutex
	versions  vcs.Versions
	notes     []string
	ensured   []string
	checkouts []string
	refreshes int

	refreshErr  error
	checkoutErr error
}

func (f *fakeVersions) EnsureRepository(_ context.Context, _, gitURL string, em vcs.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, gitURL)
	em.Info("Cloning repository...")
	return nil
}

func (f *fakeVersions) RefreshVersions(_ context.Context, _ string, _ vcs.Emitter) (vcs.Versions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.versions, f.refreshErr
}

func (f *fakeVersions) Checkout(_ context.Context, _, tag string, _ vcs.Emitter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	f.checkouts = append(f.checkouts, tag)
	return "0123456789abcdef", nil
}

func (f *fakeVersions) DiffNotes(context.Context, string, string) ([]string, error) {
	return f.notes, nil
}

func (f *fakeVersions) checkedOut() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checkouts...)
}

// fakePython pretends every provisioning step succeeds.
type fakePython struct {
	mu       sync.Mutex
	synced   int
	venvs    int
	installs int
	lastOpts python.InstallOptions

	installErr error
}

func (f *fakePython) EnsureRuntime(_ context.Context, required string, _ python.Emitter) (python.Runtime, error) {
	return python.Runtime{Version: required, Python: "/opt/python"}, nil
}

func (f *fakePython) EnsureVenv(_ context.Context, _ string, _ python.Runtime, _ python.Emitter) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.venvs++
	return "/opt/venv", nil
}

func (f *fakePython) SyncWorkingTree(_ context.Context, _ string, _ python.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced++
	return nil
}

func (f *fakePython) Install(_ context.Context, _ string, opts python.InstallOptions, _ python.Emitter) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return false, f.installErr
	}
	f.installs++
	f.lastOpts = opts
	return true, nil
}

func (f *fakePython) installOpts() python.InstallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

// fakeProcess tracks one process per app in memory.
type fakeProcess struct {
	mu       sync.Mutex
	pid      int
	running  map[string]bool
	stops    []string
	lastSpec process.StartSpec
	onExit   func(error)

	startErr error
}

func (f *fakeProcess) Start(_ context.Context, spec process.StartSpec, em process.Emitter, onExit func(error)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.running[spec.App] = true
	f.lastSpec = spec
	f.onExit = onExit
	em.Info("Starting " + spec.App + "...")
	return f.pid, nil
}

func (f *fakeProcess) Stop(_ context.Context, appName string, _ int, em process.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[appName] = false
	f.stops = append(f.stops, appName)
	em.Info(appName + " stopped.")
	return nil
}

func (f *fakeProcess) Running(appName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[appName]
}

func (f *fakeProcess) exit(err error) {
	f.mu.Lock()
	onExit := f.onExit
	f.mu.Unlock()
	onExit(err)
}

// fakeShield records exclusion requests.
type fakeShield struct {
	mu       sync.Mutex
	excluded bool
	ensured  []string
}

func (f *fakeShield) Excluded(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.excluded, nil
}

func (f *fakeShield) Ensure(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excluded = true
	f.ensured = append(f.ensured, dir)
	return nil
}

type fakeSettings struct {
	method string
}

func (f *fakeSettings) PipCacheDir() string { return "/tmp/pip-cache" }

func (f *fakeSettings) PipIndexURL() string { return "" }

func (f *fakeSettings) UpdateMethod() string {
	if f.method == "" {
		return config.UpdateMethodManual
	}
	return f.method
}
func (f *fakeSettings) DefaultPythonVersion() string { return "3.12" }

type harness struct {
	d        *Dispatcher
	registry *apps.Manager
	hub      *events.Hub
	layout   paths.Layout
	catalog  string
	vcs      *fakeVersions
	py       *fakePython
	proc     *fakeProcess
	shield   *fakeShield
	settings *fakeSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	layout := paths.New(dir)
	log := logging.NewNop()

	h := &harness{
		registry: apps.NewManager(log),
		hub:      events.NewHub(64),
		layout:   layout,
		catalog:  filepath.Join(dir, "appyard.yml"),
		vcs: &fakeVersions{
			versions: vcs.Versions{Available: []string{"v2.0.0", "v1.0.0"}, Current: "v1.0.0"},
			notes:    []string{"fix crash on resume", "add dark mode"},
		},
		py:       &fakePython{},
		proc:     &fakeProcess{pid: 4242, running: make(map[string]bool)},
		shield:   &fakeShield{excluded: true},
		settings: &fakeSettings{},
	}
	loader := apps.NewLoader(layout, func(int) bool { return false }, h.shield.Excluded, log)
	h.d = NewDispatcher(Deps{
		Layout:        layout,
		Registry:      h.registry,
		Loader:        loader,
		Hub:           h.hub,
		Versions:      h.vcs,
		Python:        h.py,
		Process:       h.proc,
		Shield:        h.shield,
		Settings:      h.settings,
		Manifest:      h.catalog,
		Alive:         func(int) bool { return false },
		LivenessEvery: 10 * time.Millisecond,
		Log:           log,
	})
	return h
}

func demoTemplate() types.App {
	return types.App{
		Name:           "demo",
		CurrentProfile: "release",
		Profiles: []types.Profile{
			{Name: "release", MainScript: "main.py", GitURL: "https://example.com/demo.git"},
			{Name: "beta", MainScript: "beta.py", GitURL: "https://example.com/demo.git"},
		},
	}
}

func (h *harness) seed(mutate func(*types.App)) {
	a := demoTemplate()
	if mutate != nil {
		mutate(&a)
	}
	h.registry.Put(a)
}

func installed(a *types.App) {
	v := "v1.0.0"
	a.Installed = true
	a.CurrentVersion = &v
	a.AvailableVersions = []string{"v2.0.0", "v1.0.0"}
}

// waitFinished drains the stream until the task's terminal event shows up.
func waitFinished(t *testing.T, ch <-chan events.Event) types.LogEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != types.EventAppLog {
				continue
			}
			var log types.LogEvent
			if err := sonic.Unmarshal(ev.Data, &log); err != nil {
				t.Fatal(err)
			}
			if log.Finished {
				return log
			}
		case <-deadline:
			t.Fatal("task never finished")
		}
	}
}

func TestSetupInstalls(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	receipt, err := h.d.Setup(context.Background(), "demo", "release")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.TaskID == "" || receipt.NeedsProfile {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("install failed: %q", final.Message)
	}

	a, ok := h.registry.Get("demo")
	if !ok {
		t.Fatal("app vanished")
	}
	if !a.Installed || a.CurrentProfile != "release" {
		t.Errorf("install did not stick: %+v", a)
	}
	if a.CurrentVersion == nil || *a.CurrentVersion != "v2.0.0" {
		t.Errorf("expected latest tag checked out, got %v", a.CurrentVersion)
	}
	if got := h.vcs.checkedOut(); len(got) != 1 || got[0] != "v2.0.0" {
		t.Errorf("expected checkout of v2.0.0, got %v", got)
	}
	if _, err := os.Stat(h.layout.App("demo").StateFile()); err != nil {
		t.Errorf("state file not persisted: %v", err)
	}
}

func TestSetupBusy(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	_, release, err := h.d.slots.Acquire("demo", KindUpdating)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = h.d.Setup(context.Background(), "demo", "release")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	var busy *BusyError
	if !errors.As(err, &busy) || busy.Kind != KindUpdating {
		t.Errorf("busy error should name the holder: %v", err)
	}
}

func TestSetupUnknownApp(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.Setup(context.Background(), "ghost", "")
	if !errors.Is(err, ErrUnknownApp) {
		t.Fatalf("expected unknown app, got %v", err)
	}
}

func TestSetupAsksForProfile(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	receipt, err := h.d.Setup(context.Background(), "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.NeedsProfile {
		t.Fatal("multi-profile install without a choice must ask")
	}
	if len(receipt.Profiles) != 2 || receipt.Profiles[0] != "release" || receipt.Profiles[1] != "beta" {
		t.Errorf("unexpected candidates: %v", receipt.Profiles)
	}
	if _, busy := h.d.Busy("demo"); busy {
		t.Error("no slot may be taken while waiting for a choice")
	}

	select {
	case ev := <-ch:
		if ev.Type != types.EventChooseProfile {
			t.Errorf("expected %s, got %s", types.EventChooseProfile, ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no choose-profile event")
	}
}

func TestSetupDefaultsProfileWhenInstalled(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	receipt, err := h.d.Setup(context.Background(), "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.NeedsProfile {
		t.Fatal("installed app reinstalls on its current profile")
	}
	waitFinished(t, ch)
}

func TestSetupUnknownProfile(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	_, err := h.d.Setup(context.Background(), "demo", "nightly")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected unknown profile, got %v", err)
	}
}

func TestSetupProfileChangeSkipsCheckout(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Setup(context.Background(), "demo", "beta"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("profile change failed: %q", final.Message)
	}

	if got := h.vcs.checkedOut(); len(got) != 0 {
		t.Errorf("profile change must reuse the checkout, got %v", got)
	}
	if !h.py.installOpts().Force {
		t.Error("profile change must force a pip run")
	}
	a, _ := h.registry.Get("demo")
	if a.CurrentProfile != "beta" {
		t.Errorf("profile not switched: %s", a.CurrentProfile)
	}
	if a.CurrentVersion == nil || *a.CurrentVersion != "v1.0.0" {
		t.Errorf("profile change must not move the version, got %v", a.CurrentVersion)
	}
}

func TestUpdateValidation(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	if _, err := h.d.Update(context.Background(), "demo", "v2.0.0", ""); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("uninstalled app: expected not installed, got %v", err)
	}

	h.seed(installed)
	if _, err := h.d.Update(context.Background(), "demo", "v9.9.9", ""); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected unknown version, got %v", err)
	}

	h.seed(func(a *types.App) {
		installed(a)
		a.Running = true
	})
	if _, err := h.d.Update(context.Background(), "demo", "v2.0.0", ""); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("running app: expected already running, got %v", err)
	}
}

func TestUpdateMovesVersion(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Update(context.Background(), "demo", "v2.0.0", "requirements-gpu.txt"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("update failed: %q", final.Message)
	}

	a, _ := h.registry.Get("demo")
	if a.CurrentVersion == nil || *a.CurrentVersion != "v2.0.0" {
		t.Errorf("version not moved: %v", a.CurrentVersion)
	}
	if got := h.vcs.checkedOut(); len(got) != 1 || got[0] != "v2.0.0" {
		t.Errorf("expected checkout of v2.0.0, got %v", got)
	}
	if got := h.py.installOpts().Requirements; got != "requirements-gpu.txt" {
		t.Errorf("requirements override lost, pip saw %q", got)
	}
}

func TestUpdateFailingInstallerKeepsState(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	h.py.installErr = errors.New("pip exited with status 1")
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Update(context.Background(), "demo", "v2.0.0", ""); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if !final.Error {
		t.Error("a failed install must end in an error event")
	}

	a, _ := h.registry.Get("demo")
	if !a.Installed {
		t.Error("a failed update must not uninstall the app")
	}
	if a.CurrentVersion == nil || *a.CurrentVersion != "v1.0.0" {
		t.Errorf("a failed update must not move the version: %v", a.CurrentVersion)
	}

	// The terminal event precedes the slot release; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, busy := h.d.Busy("demo"); !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot not released after failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := h.d.Update(context.Background(), "demo", "v2.0.0", ""); err != nil {
		t.Errorf("the app must accept commands again: %v", err)
	}
	waitFinished(t, ch)
}

func TestStartSpawns(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Start(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("start failed: %q", final.Message)
	}

	a, _ := h.registry.Get("demo")
	if !a.Running || a.LastPid == nil || *a.LastPid != 4242 {
		t.Errorf("running state not recorded: %+v", a)
	}
	if h.proc.lastSpec.Version != "v1.0.0" || h.proc.lastSpec.Profile.Name != "release" {
		t.Errorf("unexpected spawn spec: %+v", h.proc.lastSpec)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)
	h.seed(nil)
	if _, err := h.d.Start(context.Background(), "demo"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("expected not installed, got %v", err)
	}

	h.seed(func(a *types.App) {
		installed(a)
		a.Running = true
	})
	if _, err := h.d.Start(context.Background(), "demo"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected already running, got %v", err)
	}
}

func TestExitHandlerReportsCrash(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Start(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, ch)

	h.proc.running["demo"] = false
	h.proc.exit(errors.New("exit status 1"))

	final := waitFinished(t, ch)
	if !final.Error {
		t.Error("crash must produce an error terminal event")
	}
	a, _ := h.registry.Get("demo")
	if a.Running || a.LastPid != nil {
		t.Errorf("crash must clear running state: %+v", a)
	}
}

func TestStopTerminates(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Start(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, ch)

	if _, err := h.d.Stop(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("stop failed: %q", final.Message)
	}

	a, _ := h.registry.Get("demo")
	if a.Running || a.LastPid != nil {
		t.Errorf("stop must clear running state: %+v", a)
	}
	if len(h.proc.stops) != 1 || h.proc.stops[0] != "demo" {
		t.Errorf("supervisor not asked to stop: %v", h.proc.stops)
	}
}

func TestStopRequiresRunning(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	if _, err := h.d.Stop(context.Background(), "demo"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected not running, got %v", err)
	}
}

func TestDeleteRemovesApp(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	base := h.layout.App("demo").Base()
	if err := os.MkdirAll(filepath.Join(base, "repo"), 0o755); err != nil {
		t.Fatal(err)
	}
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Delete(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("delete failed: %q", final.Message)
	}

	if _, ok := h.registry.Get("demo"); ok {
		t.Error("registry entry must be removed")
	}
	if _, err := os.Stat(base); !os.IsNotExist(err) {
		t.Errorf("app directory must be removed, stat err: %v", err)
	}
}

func TestDeleteStopsRunningApp(t *testing.T) {
	h := newHarness(t)
	h.seed(func(a *types.App) {
		installed(a)
		a.Running = true
		pid := 4242
		a.LastPid = &pid
	})
	h.proc.running["demo"] = true
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	if _, err := h.d.Delete(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("delete failed: %q", final.Message)
	}
	if len(h.proc.stops) != 1 {
		t.Errorf("running app must be stopped first: %v", h.proc.stops)
	}
}

func TestUpdateNotes(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)

	notes, err := h.d.UpdateNotes(context.Background(), "demo", "v2.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0] != "fix crash on resume" {
		t.Errorf("unexpected notes: %v", notes)
	}

	if _, err := h.d.UpdateNotes(context.Background(), "demo", "v9.9.9"); !errors.Is(err, ErrUnknownVersion) {
		t.Errorf("expected unknown version, got %v", err)
	}
}

func TestEnsureDefender(t *testing.T) {
	h := newHarness(t)
	h.shield.excluded = false
	h.seed(func(a *types.App) {
		installed(a)
		a.ShowAddDefender = true
	})

	if err := h.d.EnsureDefender(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	if len(h.shield.ensured) != 1 || h.shield.ensured[0] != h.layout.App("demo").Base() {
		t.Errorf("exclusion not requested for base dir: %v", h.shield.ensured)
	}
	a, _ := h.registry.Get("demo")
	if a.ShowAddDefender {
		t.Error("advisory flag must clear after exclusion")
	}
}

func TestLoadAppsMergesCatalogAndDisk(t *testing.T) {
	h := newHarness(t)
	catalog := `name: demo
current_profile: release
profiles:
  - name: release
    main_script: main.py
    git_url: https://example.com/demo.git
`
	if err := os.WriteFile(h.catalog, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := apps.SaveState(h.layout, types.App{
		Name:           "legacy",
		CurrentProfile: "default",
		Profiles:       []types.Profile{{Name: "default", MainScript: "run.py"}},
	}); err != nil {
		t.Fatal(err)
	}
	h.registry.Put(types.App{Name: "ghost", Profiles: []types.Profile{{Name: "p"}}})

	if err := h.d.LoadApps(context.Background()); err != nil {
		t.Fatal(err)
	}

	names := h.registry.Names()
	if len(names) != 2 || names[0] != "demo" || names[1] != "legacy" {
		t.Fatalf("unexpected registry contents: %v", names)
	}
	if _, ok := h.registry.Get("ghost"); ok {
		t.Error("entries absent from catalog and disk must be dropped")
	}
}

func TestLoadAppsWithoutCatalog(t *testing.T) {
	h := newHarness(t)
	if err := h.d.LoadApps(context.Background()); err != nil {
		t.Fatalf("a missing catalog is not an error: %v", err)
	}
	if len(h.registry.Names()) != 0 {
		t.Errorf("expected empty registry, got %v", h.registry.Names())
	}
}

func TestLoadAppsRepeatable(t *testing.T) {
	h := newHarness(t)
	catalog := `name: demo
current_profile: release
profiles:
  - name: release
    main_script: main.py
    git_url: https://example.com/demo.git
`
	if err := os.WriteFile(h.catalog, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.d.LoadApps(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := h.d.Snapshot()
	if err := h.d.LoadApps(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := h.d.Snapshot()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reloading without changes must not alter the snapshot:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestRefreshAppliesAutoUpdate(t *testing.T) {
	h := newHarness(t)
	h.settings.method = config.UpdateMethodAuto
	h.seed(func(a *types.App) {
		installed(a)
		a.AvailableVersions = []string{"v1.0.0"}
	})
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	h.d.refreshAll(context.Background())

	final := waitFinished(t, ch)
	if final.Error {
		t.Fatalf("auto update failed: %q", final.Message)
	}
	a, _ := h.registry.Get("demo")
	if a.CurrentVersion == nil || *a.CurrentVersion != "v2.0.0" {
		t.Errorf("auto update did not move the version: %v", a.CurrentVersion)
	}
}

func TestRefreshNotifiesOnManual(t *testing.T) {
	h := newHarness(t)
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	h.d.refreshAll(context.Background())

	select {
	case ev := <-ch:
		if ev.Type != types.EventAppLog {
			t.Fatalf("expected a log event, got %s", ev.Type)
		}
		var log types.LogEvent
		if err := sonic.Unmarshal(ev.Data, &log); err != nil {
			t.Fatal(err)
		}
		if log.Message != "Update available: v2.0.0 (current v1.0.0)." {
			t.Errorf("unexpected notification: %q", log.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}
	if got := h.vcs.checkedOut(); len(got) != 0 {
		t.Errorf("manual policy must not update, got %v", got)
	}
}

func TestRefreshStaysSilentOnIgnore(t *testing.T) {
	h := newHarness(t)
	h.settings.method = config.UpdateMethodIgnore
	h.seed(installed)
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	h.d.refreshAll(context.Background())

	select {
	case ev := <-ch:
		if ev.Type == types.EventAppLog {
			t.Fatalf("ignore policy must suppress notifications, got %s", ev.Data)
		}
	case <-time.After(200 * time.Millisecond):
	}
	if got := h.vcs.checkedOut(); len(got) != 0 {
		t.Errorf("ignore policy must not update, got %v", got)
	}
}

func TestLivenessDemotesVanishedProcess(t *testing.T) {
	h := newHarness(t)
	h.seed(func(a *types.App) {
		installed(a)
		a.Running = true
		pid := 999
		a.LastPid = &pid
	})
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	h.d.reconcileRunning()

	final := waitFinished(t, ch)
	if !final.Error {
		t.Error("a vanished process is reported as an error")
	}
	a, _ := h.registry.Get("demo")
	if a.Running || a.LastPid != nil {
		t.Errorf("app not demoted: %+v", a)
	}
}

func TestLivenessSkipsBusyApps(t *testing.T) {
	h := newHarness(t)
	h.seed(func(a *types.App) {
		installed(a)
		a.Running = true
	})
	_, release, err := h.d.slots.Acquire("demo", KindStopping)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	h.d.reconcileRunning()

	a, _ := h.registry.Get("demo")
	if !a.Running {
		t.Error("apps mid-transition must not be demoted")
	}
}
