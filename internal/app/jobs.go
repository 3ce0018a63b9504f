package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"steamwatch/internal/config"
	logx "steamwatch/pkg/logx"
)

// registerJobs (re)schedules the maintenance jobs from cfg. Calling it
// again replaces the schedules in place.
func (a *App) registerJobs(cfg *config.Config) error {
	every, err := mapSnapshotEvery(cfg)
	if err != nil {
		return err
	}
	var errs []error
	add := func(name, schedule string, timeout time.Duration, job func(context.Context) error) {
		if err := a.jobs.Add(name, schedule, timeout, job); err != nil {
			errs = append(errs, err)
		}
	}

	add("snapshot", every.String(), 30*time.Second, a.snapshot)
	add("changefeed", orDefault(cfg.Jobs.ChangeFeed, defaultChangeFeed), 2*time.Minute, func(ctx context.Context) error {
		n, err := a.changes.Poll(ctx)
		if n > 0 {
			a.log.Debug("change feed queued apps", logx.Int("apps", n))
		}
		return err
	})
	add("purge", orDefault(cfg.Jobs.Purge, defaultPurge), 5*time.Minute, func(ctx context.Context) error {
		n, err := a.store.PurgeOrphanEntities(ctx)
		if n > 0 {
			a.log.Info("purged orphan entities", logx.Int64("rows", n))
		}
		return err
	})

	// Notify the service manager at half its watchdog interval. Only
	// present when the unit sets WatchdogSec.
	if wd, err := daemon.SdWatchdogEnabled(false); err == nil && wd > 0 {
		add("watchdog", max(wd/2, time.Second).String(), 0, func(context.Context) error {
			_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			return err
		})
	}
	return errors.Join(errs...)
}

// snapshot persists both in-memory queues.
func (a *App) snapshot(context.Context) error {
	return errors.Join(a.queue.Snapshot(), a.gateway.Snapshot())
}
