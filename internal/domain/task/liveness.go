package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apps "github.com/appyard/appyard/internal/domain/app"
	"github.com/appyard/appyard/internal/shared/types"
)

// RunLiveness polls pid liveness until ctx ends. It catches processes the
// supervisor is not watching, orphans adopted from a previous daemon run,
// that die without anyone reaping them.
func (d *Dispatcher) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcileRunning()
		}
	}
}

// reconcileRunning flips Running off for apps whose process vanished.
// Apps with a held task slot are skipped: a start or stop in flight looks
// exactly like a crash from out here.
func (d *Dispatcher) reconcileRunning() {
	changed := false
	for _, a := range d.registry.List() {
		if !a.Running {
			continue
		}
		if _, busy := d.slots.Current(a.Name); busy {
			continue
		}
		if d.process.Running(a.Name) {
			continue
		}
		if a.LastPid != nil && d.alive(*a.LastPid) {
			continue
		}

		// The supervisor's exit relay may have demoted the app between
		// our snapshot and here; mutate only if it has not.
		demoted := false
		updated, ok := d.registry.Update(a.Name, func(app *types.App) {
			if !app.Running {
				return
			}
			app.Running = false
			app.LastPid = nil
			demoted = true
		})
		if !ok || !demoted {
			continue
		}

		changed = true
		d.log.Warn("running process vanished", zap.String("app", a.Name))
		em := d.emitter(a.Name)
		em.finish(fmt.Errorf("%s is no longer running", a.Name))
		if err := apps.SaveState(d.layout, updated); err != nil {
			d.log.Warn("persist state after vanish",
				zap.String("app", a.Name), zap.Error(err))
		}
	}
	if changed {
		d.broadcast()
	}
}
