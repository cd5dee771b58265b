package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apps "github.com/appyard/appyard/internal/domain/app"
	"github.com/appyard/appyard/internal/providers/process"
	"github.com/appyard/appyard/internal/providers/python"
	"github.com/appyard/appyard/internal/shared/manifest"
	"github.com/appyard/appyard/internal/shared/types"
)

// provision is the shared pipeline behind install, profile change, and
// version moves: repository, checkout, working tree, runtime, venv, pip,
// then persisted registry state. requirements overrides the profile's
// requirements file when non-empty.
func (d *Dispatcher) provision(ctx context.Context, name, profile, target, requirements string, kind Kind, em *appEmitter) error {
	a, ok := d.registry.Get(name)
	if !ok {
		return unknownApp(name)
	}
	p := d.layout.App(name)
	prof := a.Profile(profile)
	if prof == nil {
		return fmt.Errorf("%w: %s declares no profiles", ErrUnknownProfile, name)
	}

	if kind == KindInstalling {
		if prof.GitURL == "" {
			return fmt.Errorf("profile %q of %s declares no git_url", prof.Name, name)
		}
		if err := d.vcs.EnsureRepository(ctx, p.Repo(), prof.GitURL, em); err != nil {
			return err
		}
	}

	// A profile change reuses the checkout as is; every other kind
	// refreshes tags and moves HEAD.
	available := a.AvailableVersions
	current := a.CurrentVersion
	if kind != KindChangingProfile {
		vers, err := d.vcs.RefreshVersions(ctx, p.Repo(), em)
		if err != nil {
			return err
		}
		available = vers.Available
		if target == "" && len(available) > 0 {
			target = available[0]
		}
		if target != "" {
			if _, err := d.vcs.Checkout(ctx, p.Repo(), target, em); err != nil {
				return err
			}
			current = &target
		} else {
			// Untagged repository: run whatever HEAD the clone
			// produced and record its commit id.
			head := vers.Current
			current = &head
		}
	}

	if err := d.python.SyncWorkingTree(ctx, name, em); err != nil {
		return err
	}

	// The checked-out tree may carry its own manifest revision.
	if err := manifest.Refine(&a, p.Manifest()); err != nil {
		d.log.Warn("manifest refine", zap.String("app", name), zap.Error(err))
	}
	a.Name = name
	if !hasProfile(a.Profiles, profile) {
		return fmt.Errorf("%w: checked-out %s no longer defines %q", ErrUnknownProfile, name, profile)
	}
	prof = a.Profile(profile)

	required := prof.RequiresPython
	if required == "" {
		if v, ok := python.RequiresFromPyproject(filepath.Join(p.Working(), "pyproject.toml")); ok {
			required = v
		}
	}
	if required == "" {
		required = d.settings.DefaultPythonVersion()
	}
	rt, err := d.python.EnsureRuntime(ctx, required, em)
	if err != nil {
		return err
	}
	if rt.Downloaded && d.metrics != nil {
		d.metrics.RecordRuntimeDownload()
	}

	if _, err := d.python.EnsureVenv(ctx, name, rt, em); err != nil {
		return err
	}

	reqs := requirements
	if reqs == "" {
		reqs = prof.Requirements
	}
	ran, err := d.python.Install(ctx, name, python.InstallOptions{
		Requirements: reqs,
		PipArgs:      prof.PipArgs,
		CacheDir:     d.settings.PipCacheDir(),
		IndexURL:     d.settings.PipIndexURL(),
		Force:        kind == KindChangingProfile,
	}, em)
	if err != nil {
		return err
	}
	if ran && d.metrics != nil {
		d.metrics.RecordPipInstall()
	}

	profiles := a.Profiles
	updated, ok := d.registry.Update(name, func(app *types.App) {
		app.Installed = true
		app.CurrentProfile = profile
		app.Profiles = profiles
		app.AvailableVersions = available
		app.CurrentVersion = current
	})
	if !ok {
		return unknownApp(name)
	}
	if err := apps.SaveState(d.layout, updated); err != nil {
		return err
	}

	if prof.WantsDefenderWhitelist() {
		if excluded, err := d.shield.Excluded(ctx, p.Base()); err == nil && !excluded {
			d.registry.Update(name, func(app *types.App) { app.ShowAddDefender = true })
		}
	}
	return nil
}

// spawn starts the app's active profile and records the new pid.
func (d *Dispatcher) spawn(ctx context.Context, name string, em *appEmitter) error {
	a, ok := d.registry.Get(name)
	if !ok {
		return unknownApp(name)
	}
	prof := a.ActiveProfile()
	if prof == nil {
		return fmt.Errorf("%s declares no profiles", name)
	}
	ver := ""
	if a.CurrentVersion != nil {
		ver = *a.CurrentVersion
	}

	pid, err := d.process.Start(ctx, process.StartSpec{
		App:     name,
		Version: ver,
		Profile: *prof,
	}, em, d.exitHandler(name))
	if err != nil {
		return err
	}

	updated, ok := d.registry.Update(name, func(app *types.App) {
		app.Running = true
		app.LastStart = time.Now()
		app.LastPid = &pid
	})
	if !ok {
		return unknownApp(name)
	}
	return apps.SaveState(d.layout, updated)
}

// exitHandler reacts to a process ending on its own. Supervisor-initiated
// stops never reach it.
func (d *Dispatcher) exitHandler(name string) func(err error) {
	return func(waitErr error) {
		updated, ok := d.registry.Update(name, func(app *types.App) {
			app.Running = false
			app.LastPid = nil
		})
		if !ok {
			return
		}

		em := d.emitter(name)
		if waitErr != nil {
			em.finish(fmt.Errorf("%s crashed: %w", name, waitErr))
		} else {
			em.Info(fmt.Sprintf("%s exited.", name))
			em.finish(nil)
		}

		if err := apps.SaveState(d.layout, updated); err != nil {
			d.log.Warn("persist state after exit", zap.String("app", name), zap.Error(err))
		}
		d.broadcast()
	}
}

// halt stops the running process and clears the pid from state.
func (d *Dispatcher) halt(ctx context.Context, name string, em *appEmitter) error {
	a, ok := d.registry.Get(name)
	if !ok {
		return unknownApp(name)
	}
	lastPid := 0
	if a.LastPid != nil {
		lastPid = *a.LastPid
	}

	if err := d.process.Stop(ctx, name, lastPid, em); err != nil {
		return err
	}

	updated, ok := d.registry.Update(name, func(app *types.App) {
		app.Running = false
		app.LastPid = nil
	})
	if !ok {
		return unknownApp(name)
	}
	return apps.SaveState(d.layout, updated)
}

// remove stops the app if needed, deletes its directory, and drops the
// registry entry.
func (d *Dispatcher) remove(ctx context.Context, name string, em *appEmitter) error {
	if a, ok := d.registry.Get(name); ok && (a.Running || d.process.Running(name)) {
		if err := d.halt(ctx, name, em); err != nil {
			return err
		}
	}

	base := d.layout.App(name).Base()
	em.Info(fmt.Sprintf("Removing %s...", base))
	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("remove %s: %w", base, err)
	}
	d.registry.Remove(name)
	em.Info(fmt.Sprintf("%s deleted.", name))
	return nil
}
