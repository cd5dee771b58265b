package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apps "github.com/appyard/appyard/internal/domain/app"
	"github.com/appyard/appyard/internal/domain/config"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/shared/manifest"
	"github.com/appyard/appyard/internal/shared/types"
	"github.com/appyard/appyard/internal/shared/version"
)

// LoadApps rebuilds the registry from the manifest catalog and the apps
// directory, broadcasts the snapshot, and then refreshes version lists in
// the background. Apps with a held task slot are left untouched so a
// reload cannot fight a running pipeline.
func (d *Dispatcher) LoadApps(ctx context.Context) error {
	seen := make(map[string]bool)

	tpl, err := manifest.Load(d.manifest)
	switch {
	case err == nil:
		seen[tpl.Name] = true
		if _, busy := d.slots.Current(tpl.Name); !busy {
			a, rerr := d.loader.Reconcile(ctx, tpl)
			if rerr != nil {
				return rerr
			}
			d.registry.Put(a)
		}
	case errors.Is(err, os.ErrNotExist):
		d.log.Info("no app catalog", zap.String("path", d.manifest))
	default:
		return fmt.Errorf("catalog %s: %w", d.manifest, err)
	}

	for _, name := range d.loader.Discover() {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, busy := d.slots.Current(name); busy {
			continue
		}
		// Disk-only apps carry their profiles in their own state file;
		// an empty template keeps them as persisted.
		a, err := d.loader.Reconcile(ctx, types.App{Name: name})
		if err != nil {
			d.log.Warn("reconcile discovered app", zap.String("app", name), zap.Error(err))
			continue
		}
		d.registry.Put(a)
	}

	// Entries gone from both the catalog and the disk are stale, unless a
	// pipeline is mid-flight for them (a first install has no state file
	// until provisioning persists one).
	for _, name := range d.registry.Names() {
		if seen[name] {
			continue
		}
		if _, busy := d.slots.Current(name); busy {
			continue
		}
		d.registry.Remove(name)
	}

	d.broadcast()
	go d.refreshAll(context.Background())
	return nil
}

// refreshAll re-reads remote tags for every idle installed app with
// bounded parallelism. Changed lists are persisted and broadcast once;
// afterwards the configured update policy runs per app.
func (d *Dispatcher) refreshAll(ctx context.Context) {
	method := d.settings.UpdateMethod()
	var changed atomic.Bool

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.refresh)
	for _, a := range d.registry.List() {
		if !a.Installed {
			continue
		}
		if _, busy := d.slots.Current(a.Name); busy {
			continue
		}
		g.Go(func() error {
			if d.refreshOne(ctx, a, method) {
				changed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if changed.Load() {
		d.broadcast()
	}
}

// refreshOne updates one app's available versions. Reports whether the
// registry changed.
func (d *Dispatcher) refreshOne(ctx context.Context, a types.App, method string) bool {
	em := quietEmitter{log: d.log, app: a.Name}
	vers, err := d.vcs.RefreshVersions(ctx, d.layout.App(a.Name).Repo(), em)
	if err != nil {
		d.log.Warn("version refresh", zap.String("app", a.Name), zap.Error(err))
		return false
	}

	changed := false
	if !equalStrings(a.AvailableVersions, vers.Available) {
		updated, ok := d.registry.Update(a.Name, func(app *types.App) {
			app.AvailableVersions = vers.Available
		})
		if ok {
			changed = true
			if err := apps.SaveState(d.layout, updated); err != nil {
				d.log.Warn("persist refreshed versions",
					zap.String("app", a.Name), zap.Error(err))
			}
		}
	}

	d.applyUpdatePolicy(a.Name, method, a.CurrentVersion, vers.Available)
	return changed
}

// applyUpdatePolicy reacts to a newer release being available. AUTO
// submits an update task (skipped when the slot is taken), MANUAL emits a
// notification line, IGNORE stays silent.
func (d *Dispatcher) applyUpdatePolicy(name, method string, current *string, available []string) {
	if method == config.UpdateMethodIgnore || len(available) == 0 || current == nil {
		return
	}
	latest := available[0]
	if version.CompareTags(latest, *current) <= 0 {
		return
	}

	switch method {
	case config.UpdateMethodAuto:
		if _, err := d.Update(context.Background(), name, latest, ""); err != nil {
			d.log.Warn("auto update not started",
				zap.String("app", name),
				zap.String("version", latest),
				zap.Error(err))
		}
	default:
		em := d.emitter(name)
		em.Info(fmt.Sprintf("Update available: %s (current %s).", latest, *current))
	}
}

// quietEmitter routes provider chatter to the debug log. Background
// refreshes must not repaint app consoles with fetch progress.
type quietEmitter struct {
	log *logging.Logger
	app string
}

func (q quietEmitter) Info(message string) {
	q.log.Debug(message, zap.String("app", q.app))
}

func (q quietEmitter) Progress(message string) {}

func (q quietEmitter) Error(message string) {
	q.log.Debug(message, zap.String("app", q.app))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
