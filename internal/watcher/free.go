package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

// FreeConfig controls the free-promotion checks.
type FreeConfig struct {
	// Lead activates a package this long before its window opens.
	Lead time.Duration
	// Retention keeps ended packages this long before purging them.
	Retention time.Duration
	// Recheck is the minimum age of an active package's last check before
	// it is looked up again.
	Recheck time.Duration
}

const DefaultFreeRecheck = 4 * time.Hour

// FreeStore persists free packages.
type FreeStore interface {
	ActiveFreePackages(ctx context.Context) ([]domain.FreePackage, error)
	PendingFreePackages(ctx context.Context, startBefore, now time.Time) ([]domain.FreePackage, error)
	UpsertFreePackage(ctx context.Context, p domain.FreePackage) error
	DeleteFreePackage(ctx context.Context, id uint32) error
	PurgeFreePackages(ctx context.Context, before time.Time) (int64, error)
	App(ctx context.Context, id uint32) (domain.AppInfo, error)
}

// ProductSource serves bulk package metadata.
type ProductSource interface {
	Connectivity
	ProductInfo(ctx context.Context, appIDs, packageIDs []uint32) (steam.ProductInfo, error)
}

// Free announces claim-to-keep promotions. Packages are discovered by the
// batch gateway; this variant rechecks the ones already announced and
// activates the ones whose window is opening.
type Free struct {
	deps  Deps
	src   ProductSource
	store FreeStore
	cfg   FreeConfig
}

var _ Variant = (*Free)(nil)

func NewFree(d Deps, src ProductSource, store FreeStore, cfg FreeConfig) *Free {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Recheck <= 0 {
		cfg.Recheck = DefaultFreeRecheck
	}
	return &Free{deps: d.withDefaults(domain.TypeFree), src: src, store: store, cfg: cfg}
}

func (f *Free) Type() domain.WatcherType { return domain.TypeFree }

func (f *Free) PollOnce(ctx context.Context) (Cycle, error) {
	now := f.deps.Now()
	cyc := Cycle{Result: ResultProcessed}

	active, err := f.store.ActiveFreePackages(ctx)
	if err != nil {
		return cyc, fmt.Errorf("active free packages: %w", err)
	}
	worked, err := f.recheck(ctx, active, now, &cyc)
	if err != nil {
		return cyc, err
	}

	pending, err := f.store.PendingFreePackages(ctx, now.Add(f.cfg.Lead), now)
	if err != nil {
		return cyc, fmt.Errorf("pending free packages: %w", err)
	}
	for _, p := range pending {
		app, err := f.store.App(ctx, p.AppID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return cyc, fmt.Errorf("app %d: %w", p.AppID, err)
		}
		if err := f.deps.notify(ctx, domain.Match{Type: domain.TypeFree}, freeEmbed(p, app)); err != nil {
			return cyc, err
		}
		cyc.Emitted++
		p.Active, p.LastChecked, p.LastUpdate = true, now, now
		if err := f.store.UpsertFreePackage(ctx, p); err != nil {
			return cyc, fmt.Errorf("activate free package %d: %w", p.ID, err)
		}
		f.deps.Log.Info("free package activated", logx.Uint32("package", p.ID), logx.Uint32("app", p.AppID))
	}

	purged, err := f.store.PurgeFreePackages(ctx, now.Add(-f.cfg.Retention))
	if err != nil {
		return cyc, fmt.Errorf("purge free packages: %w", err)
	}
	if purged > 0 {
		f.deps.Log.Debug("free packages purged", logx.Int64("count", purged))
	}

	if worked == 0 && len(pending) == 0 {
		cyc.Result = ResultIdle
	}
	return cyc, nil
}

// recheck drops active packages whose window ended or that the upstream no
// longer lists as a free promotion. Only packages last checked before the
// recheck interval are looked up. It returns how many packages it handled.
func (f *Free) recheck(ctx context.Context, active []domain.FreePackage, now time.Time, cyc *Cycle) (int, error) {
	var (
		stale  []domain.FreePackage
		worked int
	)
	for _, p := range active {
		if !p.EndTime.IsZero() && !p.EndTime.After(now) {
			if err := f.store.DeleteFreePackage(ctx, p.ID); err != nil {
				return worked, fmt.Errorf("delete free package %d: %w", p.ID, err)
			}
			worked++
			continue
		}
		if now.Sub(p.LastChecked) >= f.cfg.Recheck {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 || f.src == nil || !f.src.Connected() {
		return worked, nil
	}
	worked += len(stale)

	ids := make([]uint32, len(stale))
	for i, p := range stale {
		ids[i] = p.ID
	}
	info, err := f.src.ProductInfo(ctx, nil, ids)
	switch {
	case errors.Is(err, steam.ErrUnsupported):
		return worked - len(stale), nil
	case err != nil:
		f.deps.Log.Warn("free package recheck failed", logx.Int("packages", len(ids)), logx.Err(err))
		cyc.FetchErr = err
		return worked, nil
	}

	byID := make(map[uint32]domain.PackageInfo, len(info.Packages))
	for _, pi := range info.Packages {
		byID[pi.ID] = pi
	}
	for _, p := range stale {
		pi, ok := byID[p.ID]
		switch {
		case !ok:
			p.LastChecked = now
		case !pi.FreePromotion(now):
			f.deps.Log.Info("free package no longer promoted", logx.Uint32("package", p.ID))
			if err := f.store.DeleteFreePackage(ctx, p.ID); err != nil {
				return worked, fmt.Errorf("delete free package %d: %w", p.ID, err)
			}
			continue
		default:
			p.StartTime, p.EndTime, p.LastChecked = pi.StartTime, pi.ExpiryTime, now
		}
		if err := f.store.UpsertFreePackage(ctx, p); err != nil {
			return worked, fmt.Errorf("update free package %d: %w", p.ID, err)
		}
	}
	return worked, nil
}
