package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
)

func alwaysDead(int) bool  { return false }
func alwaysAlive(int) bool { return true }

func alreadyExcluded(context.Context, string) (bool, error) { return true, nil }
func notExcluded(context.Context, string) (bool, error)     { return false, nil }

func template(name string) types.App {
	return types.App{
		Name:           name,
		CurrentProfile: "release",
		Profiles: []types.Profile{
			{Name: "release", MainScript: "main.py", GitURL: "https://example.com/demo.git", RequiresPython: "3.12"},
			{Name: "beta", MainScript: "beta.py", GitURL: "https://example.com/demo.git", RequiresPython: "3.12"},
		},
	}
}

func markInstalled(t *testing.T, layout paths.Layout, name string) {
	t.Helper()
	p := layout.App(name)
	for _, dir := range []string{p.Venv(), p.Repo()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	layout := paths.New(t.TempDir())
	app := template("demo")
	version := "v2.0.0"
	app.Installed = true
	app.CurrentVersion = &version
	app.ShowAddDefender = true

	if err := SaveState(layout, app); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(layout.App("demo").StateFile())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "show_add_defender") {
		t.Error("derived defender flag leaked into app.json")
	}

	loaded, err := LoadState(layout, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected state")
	}
	if !loaded.Installed || loaded.CurrentVersion == nil || *loaded.CurrentVersion != "v2.0.0" {
		t.Errorf("state lost in round trip: %+v", loaded)
	}
	if loaded.ShowAddDefender {
		t.Error("defender flag must not persist")
	}
}

func TestLoadStateMissing(t *testing.T) {
	layout := paths.New(t.TempDir())
	loaded, err := LoadState(layout, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing state, got %+v", loaded)
	}
}

func TestReconcileFreshTemplate(t *testing.T) {
	layout := paths.New(t.TempDir())
	l := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())

	app, err := l.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if app.Installed || app.Running {
		t.Errorf("fresh app must start idle: %+v", app)
	}
	if app.CurrentProfile != "release" {
		t.Errorf("expected default profile, got %s", app.CurrentProfile)
	}
	if _, err := os.Stat(layout.App("demo").StateFile()); err != nil {
		t.Error("reconcile must persist initial state")
	}
}

func TestReconcileMergesDiskState(t *testing.T) {
	layout := paths.New(t.TempDir())
	markInstalled(t, layout, "demo")

	stale := template("demo")
	stale.Profiles[0].MainScript = "old.py"
	version := "v1.0.0"
	stale.Installed = true
	stale.CurrentVersion = &version
	stale.CurrentProfile = "beta"
	stale.AvailableVersions = []string{"v1.0.0"}
	if err := SaveState(layout, stale); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	app, err := l.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}

	if app.Profiles[0].MainScript != "main.py" {
		t.Errorf("profiles must come from the template, got %s", app.Profiles[0].MainScript)
	}
	if app.CurrentProfile != "beta" {
		t.Errorf("current profile must survive the merge, got %s", app.CurrentProfile)
	}
	if app.CurrentVersion == nil || *app.CurrentVersion != "v1.0.0" {
		t.Errorf("installed version must survive the merge: %+v", app.CurrentVersion)
	}
	if !app.Installed {
		t.Error("installed state lost")
	}
}

func TestReconcileDropsUnknownProfile(t *testing.T) {
	layout := paths.New(t.TempDir())
	stale := template("demo")
	stale.CurrentProfile = "retired"
	if err := SaveState(layout, stale); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	app, err := l.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if app.CurrentProfile != "release" {
		t.Errorf("unknown profile must fall back to first, got %s", app.CurrentProfile)
	}
}

func TestReconcileDemotesWhenVenvMissing(t *testing.T) {
	layout := paths.New(t.TempDir())
	stale := template("demo")
	version := "v1.0.0"
	stale.Installed = true
	stale.CurrentVersion = &version
	if err := SaveState(layout, stale); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	app, err := l.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if app.Installed {
		t.Error("app without a venv must demote to not installed")
	}
	if app.CurrentVersion != nil {
		t.Error("not-installed apps carry no current version")
	}
}

func TestReconcileRecomputesRunning(t *testing.T) {
	layout := paths.New(t.TempDir())
	pid := 4242
	stale := template("demo")
	stale.Running = true
	stale.LastPid = &pid
	if err := SaveState(layout, stale); err != nil {
		t.Fatal(err)
	}

	dead := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	app, err := dead.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if app.Running {
		t.Error("dead pid must clear running")
	}
	if app.LastPid != nil {
		t.Error("dead pid must be dropped")
	}

	stale.LastPid = &pid
	if err := SaveState(layout, stale); err != nil {
		t.Fatal(err)
	}
	live := NewLoader(layout, alwaysAlive, alreadyExcluded, logging.NewNop())
	app, err = live.Reconcile(context.Background(), template("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if !app.Running {
		t.Error("live pid must restore running")
	}
	if app.LastPid == nil || *app.LastPid != pid {
		t.Error("live pid must be kept")
	}
}

func TestReconcileComputesDefenderFlag(t *testing.T) {
	layout := paths.New(t.TempDir())
	wants := true
	tpl := template("demo")
	tpl.Profiles[0].RequiresDefenderWhitelist = &wants

	l := NewLoader(layout, alwaysDead, notExcluded, logging.NewNop())
	app, err := l.Reconcile(context.Background(), tpl)
	if err != nil {
		t.Fatal(err)
	}
	if !app.ShowAddDefender {
		t.Error("expected defender prompt for unexcluded directory")
	}

	already := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	app, err = already.Reconcile(context.Background(), tpl)
	if err != nil {
		t.Fatal(err)
	}
	if app.ShowAddDefender {
		t.Error("excluded directory must not prompt")
	}
}

func TestDiscoverFindsPersistedApps(t *testing.T) {
	layout := paths.New(t.TempDir())
	if err := SaveState(layout, template("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := SaveState(layout, template("bravo")); err != nil {
		t.Fatal(err)
	}
	// A bare directory without state does not count.
	if err := os.MkdirAll(layout.App("junk").Base(), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(layout, alwaysDead, alreadyExcluded, logging.NewNop())
	names := l.Discover()
	if len(names) != 2 {
		t.Fatalf("expected 2 apps, got %v", names)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["alpha"] || !found["bravo"] {
		t.Errorf("missing expected apps: %v", names)
	}
}
