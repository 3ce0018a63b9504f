package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

// UGCConfig sizes UGC checks.
type UGCConfig struct {
	Batch        int // items checked per cycle
	HistoryCount int // change notes fetched for a changed item
}

// UGCSource serves user-generated item details.
type UGCSource interface {
	Connectivity
	UGCDetails(ctx context.Context, ids []string) ([]steam.UGCDetail, error)
	UGCChangeHistory(ctx context.Context, id string, count int) ([]steam.ChangeNote, error)
}

// UGC watches individual workshop items for updates and removal.
type UGC struct {
	deps  Deps
	src   UGCSource
	store EntityStore
	cfg   UGCConfig
}

var _ Variant = (*UGC)(nil)

func NewUGC(d Deps, src UGCSource, store EntityStore, cfg UGCConfig) *UGC {
	if cfg.Batch <= 0 {
		cfg.Batch = 20
	}
	if cfg.HistoryCount <= 0 {
		cfg.HistoryCount = 5
	}
	return &UGC{deps: d.withDefaults(domain.TypeUGC), src: src, store: store, cfg: cfg}
}

func (u *UGC) Type() domain.WatcherType { return domain.TypeUGC }

func (u *UGC) PollOnce(ctx context.Context) (Cycle, error) {
	if !u.src.Connected() {
		return Cycle{Result: ResultDisconnected}, nil
	}
	cands, err := u.deps.Scheduler.NextDueN(ctx, domain.TypeUGC, u.cfg.Batch)
	if err != nil {
		return Cycle{}, err
	}
	if len(cands) == 0 {
		return Cycle{Result: ResultIdle}, nil
	}

	now := u.deps.Now()
	ids := make([]string, len(cands))
	byID := make(map[string]domain.Candidate, len(cands))
	for i, c := range cands {
		ids[i] = c.EntityID
		byID[c.EntityID] = c
	}
	cyc := Cycle{Result: ResultProcessed, Entity: ids[0]}

	details, err := u.src.UGCDetails(ctx, ids)
	if err != nil {
		if errors.Is(err, steam.ErrNotConnected) {
			cyc.Result = ResultDisconnected
			return cyc, nil
		}
		u.deps.Log.Warn("ugc details failed", logx.Int("items", len(ids)), logx.Err(err))
		cyc.FetchErr = err
		if err := u.store.TouchEntities(ctx, domain.TypeUGC, ids, now); err != nil {
			return cyc, fmt.Errorf("touch ugc: %w", err)
		}
		return cyc, nil
	}

	var unchanged []string
	for _, d := range details {
		c, ok := byID[d.ID]
		if !ok {
			continue
		}
		delete(byID, d.ID)

		n, same, err := u.checkItem(ctx, c, d, now)
		cyc.Emitted += n
		if err != nil {
			return cyc, err
		}
		if same {
			unchanged = append(unchanged, c.EntityID)
		}
	}
	// Items the upstream skipped are retried on their next due time.
	for id := range byID {
		unchanged = append(unchanged, id)
	}
	sort.Strings(unchanged)
	if err := u.store.TouchEntities(ctx, domain.TypeUGC, unchanged, now); err != nil {
		return cyc, fmt.Errorf("touch ugc: %w", err)
	}
	return cyc, nil
}

// checkItem handles one item. same is true when nothing changed and only
// the checked time needs to move.
func (u *UGC) checkItem(ctx context.Context, c domain.Candidate, d steam.UGCDetail, now time.Time) (emitted int, same bool, err error) {
	match := domain.Match{Type: domain.TypeUGC, EntityID: c.EntityID}

	if d.Removed() {
		if err := u.deps.notify(ctx, match, ugcRemovedEmbed(d, c.Name)); err != nil {
			return 0, false, err
		}
		u.deps.Log.Info("ugc item removed, dropping watchers",
			logx.String("entity", c.EntityID), logx.Int("result", d.Result), logx.Bool("banned", d.Banned))
		if err := u.store.DeleteEntity(ctx, domain.TypeUGC, c.EntityID); err != nil {
			return 1, false, fmt.Errorf("delete ugc %s: %w", c.EntityID, err)
		}
		return 1, false, nil
	}

	if !c.MarkerTime.IsZero() && !d.Updated.After(c.MarkerTime) {
		return 0, true, nil
	}

	st := c.EntityState
	st.Name, st.AppID = d.Title, d.AppID
	if !c.MarkerTime.IsZero() {
		emitted, err = u.announce(ctx, match, c.MarkerTime, d)
		if err != nil {
			return emitted, false, err
		}
	}
	st.MarkerTime, st.LastChecked = d.Updated, now
	if err := u.store.SaveEntityState(ctx, st); err != nil {
		return emitted, false, fmt.Errorf("save ugc %s: %w", c.EntityID, err)
	}
	return emitted, false, nil
}

// announce emits one notice per change note newer than marker, oldest
// first, or one generic notice when no history is available.
func (u *UGC) announce(ctx context.Context, match domain.Match, marker time.Time, d steam.UGCDetail) (int, error) {
	notes, err := u.src.UGCChangeHistory(ctx, d.ID, u.cfg.HistoryCount)
	if err != nil {
		u.deps.Log.Warn("ugc change history failed", logx.String("entity", d.ID), logx.Err(err))
	}
	var fresh []steam.ChangeNote
	for _, n := range notes {
		if n.Time.After(marker) {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		if err := u.deps.notify(ctx, match, ugcUpdateEmbed(d)); err != nil {
			return 0, err
		}
		return 1, nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })
	for i, n := range fresh {
		if err := u.deps.notify(ctx, match, ugcChangeEmbed(d, n)); err != nil {
			return i, err
		}
	}
	return len(fresh), nil
}
