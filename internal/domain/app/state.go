package app

import (
	"context"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/manifest"
	"github.com/appyard/appyard/internal/shared/paths"
	"github.com/appyard/appyard/internal/shared/types"
)

// SaveState writes the app's state file under its base directory.
// ShowAddDefender is derived at load time and never persisted.
func SaveState(layout paths.Layout, app types.App) error {
	app.ShowAddDefender = false
	p := layout.App(app.Name)
	if err := os.MkdirAll(p.Base(), 0o755); err != nil {
		return fmt.Errorf("create app directory for %s: %w", app.Name, err)
	}
	data, err := sonic.ConfigStd.MarshalIndent(&app, "", "  ")
	if err != nil {
		return fmt.Errorf("encode app state for %s: %w", app.Name, err)
	}
	// Write-then-rename so a crash mid-write never leaves a truncated
	// state file behind.
	tmp := p.StateFile() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write app state for %s: %w", app.Name, err)
	}
	if err := os.Rename(tmp, p.StateFile()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write app state for %s: %w", app.Name, err)
	}
	return nil
}

// LoadState reads the persisted state for name. A missing file returns
// nil without error.
func LoadState(layout paths.Layout, name string) (*types.App, error) {
	raw, err := os.ReadFile(layout.App(name).StateFile())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read app state for %s: %w", name, err)
	}
	var app types.App
	if err := sonic.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("decode app state for %s: %w", name, err)
	}
	return &app, nil
}

// Loader merges manifest templates with persisted state. The probe
// callbacks keep it independent of how processes and scan exclusions are
// actually checked.
type Loader struct {
	layout   paths.Layout
	alive    func(pid int) bool
	excluded func(ctx context.Context, dir string) (bool, error)
	log      *logging.Logger
}

// NewLoader returns a loader over the given layout. alive probes a pid,
// excluded checks the antivirus allow-list for a directory.
func NewLoader(layout paths.Layout, alive func(int) bool, excluded func(context.Context, string) (bool, error), log *logging.Logger) *Loader {
	return &Loader{
		layout:   layout,
		alive:    alive,
		excluded: excluded,
		log:      log.Component("loader"),
	}
}

// Reconcile builds the authoritative AppState for a template: persisted
// fields come from disk, profiles from the template, running from a live
// pid probe. An installed app missing its venv or repository is demoted
// to not-installed. The merged state is persisted before returning.
func (l *Loader) Reconcile(ctx context.Context, template types.App) (types.App, error) {
	name := template.Name
	disk, err := LoadState(l.layout, name)
	if err != nil {
		// A broken state file must not wedge the whole load; the next
		// successful task rewrites it.
		l.log.Warn("unreadable app state, rebuilding from template",
			zap.String("app", name),
			zap.Error(err))
		disk = nil
	}

	app := template.Clone()
	if disk != nil {
		app = disk.Clone()
		app.Name = name
		if len(template.Profiles) > 0 {
			current := app.CurrentProfile
			app.Profiles = append([]types.Profile(nil), template.Profiles...)
			app.CurrentProfile = current
			if !hasProfile(app.Profiles, current) {
				app.CurrentProfile = app.Profiles[0].Name
			}
		}
	}

	// Persisted running is never trusted; only a live pid counts.
	app.Running = false
	if app.LastPid != nil {
		if l.alive(*app.LastPid) {
			app.Running = true
		} else {
			app.LastPid = nil
		}
	}

	p := l.layout.App(name)
	if app.Installed {
		if !dirExists(p.Venv()) {
			l.log.Warn("venv missing, demoting to not installed", zap.String("app", name))
			app.Installed = false
		} else if !dirExists(p.Repo()) {
			l.log.Warn("repository missing, demoting to not installed", zap.String("app", name))
			app.Installed = false
		}
	}
	if !app.Installed {
		app.CurrentVersion = nil
	}

	// The checked-out tree may carry a newer manifest than the template.
	if app.Installed {
		if err := manifest.Refine(&app, p.Manifest()); err != nil {
			l.log.Warn("working-tree manifest unreadable",
				zap.String("app", name),
				zap.Error(err))
		}
		app.Name = name
	}

	if err := SaveState(l.layout, app); err != nil {
		return app, err
	}

	app.ShowAddDefender = false
	if prof := app.ActiveProfile(); prof != nil && prof.WantsDefenderWhitelist() {
		if ok, err := l.excluded(ctx, p.Base()); err == nil && !ok {
			app.ShowAddDefender = true
		}
	}
	return app, nil
}

// Discover returns the names of apps that have a persisted state file on
// disk, in no particular order.
func (l *Loader) Discover() []string {
	entries, err := os.ReadDir(l.layout.AppsDir())
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(l.layout.App(e.Name()).StateFile()); err == nil {
			names = append(names, e.Name())
		}
	}
	return names
}

func hasProfile(profiles []types.Profile, name string) bool {
	for _, p := range profiles {
		if p.Name == name {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
