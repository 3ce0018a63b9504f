package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

// Scheduler picks due entities.
type Scheduler interface {
	NextDue(ctx context.Context, t domain.WatcherType) (domain.Candidate, bool, error)
	NextDueN(ctx context.Context, t domain.WatcherType, n int) ([]domain.Candidate, error)
	NextDueBatch(ctx context.Context, c domain.Candidate, limit int) ([]domain.PriceTarget, error)
}

// Notifier fans a change out to the matching watchers.
type Notifier interface {
	Notify(ctx context.Context, m domain.Match, embeds ...transport.Embed) (int, error)
}

// EntityStore persists entity state.
type EntityStore interface {
	SaveEntityState(ctx context.Context, st domain.EntityState) error
	TouchEntities(ctx context.Context, t domain.WatcherType, ids []string, at time.Time) error
	DeleteEntity(ctx context.Context, t domain.WatcherType, id string) error
}

// Connectivity is the connected flag of a session-backed upstream.
type Connectivity interface {
	Connected() bool
}

// Deps are shared by every variant.
type Deps struct {
	Scheduler Scheduler
	Notifier  Notifier
	Log       logx.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults(t domain.WatcherType) Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("watcher", string(t)))
	return d
}

// storeError marks a failure of the local store or the delivery queue.
// Those abort the cycle; everything else is an upstream failure.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func stored(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{err: err}
}

func isStoreError(err error) bool {
	var se *storeError
	return errors.As(err, &se)
}

// notify pushes one change and reports a failure as a store error.
func (d Deps) notify(ctx context.Context, m domain.Match, embeds ...transport.Embed) error {
	_, err := d.Notifier.Notify(ctx, m, embeds...)
	return stored(err)
}

// entityCheck inspects one due entity and returns its new state.
type entityCheck func(ctx context.Context, c domain.Candidate, now time.Time) (domain.EntityState, int, error)

// pollEntity runs the single-entity cycle shared by the feed and listing
// variants.
func pollEntity(ctx context.Context, d Deps, t domain.WatcherType, conn Connectivity, store EntityStore, check entityCheck) (Cycle, error) {
	if conn != nil && !conn.Connected() {
		return Cycle{Result: ResultDisconnected}, nil
	}
	c, ok, err := d.Scheduler.NextDue(ctx, t)
	if err != nil {
		return Cycle{}, err
	}
	if !ok {
		return Cycle{Result: ResultIdle}, nil
	}

	now := d.Now()
	st, emitted, err := check(ctx, c, now)
	cyc := Cycle{Result: ResultProcessed, Entity: c.EntityID, Emitted: emitted}
	switch {
	case err == nil:
		st.Type, st.EntityID, st.LastChecked = t, c.EntityID, now
		if err := store.SaveEntityState(ctx, st); err != nil {
			return cyc, fmt.Errorf("save %s %s: %w", t, c.EntityID, err)
		}
		return cyc, nil

	case isStoreError(err):
		return cyc, err

	case errors.Is(err, steam.ErrNotConnected):
		cyc.Result = ResultDisconnected
		return cyc, nil

	case errors.Is(err, steam.ErrUnsupported):
		d.Log.Debug("upstream lacks this listing", logx.String("entity", c.EntityID))
		cyc.Result = ResultIdle
		return cyc, nil

	default:
		d.Log.Warn("upstream fetch failed", logx.String("entity", c.EntityID), logx.Err(err))
		cyc.FetchErr = err
		if err := store.TouchEntities(ctx, t, []string{c.EntityID}, now); err != nil {
			return cyc, fmt.Errorf("touch %s %s: %w", t, c.EntityID, err)
		}
		return cyc, nil
	}
}

func parseUint32(id string) (uint32, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid entity id %q", id)
	}
	return uint32(n), nil
}
