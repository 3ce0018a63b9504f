package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

const changeMarkerKey = "gateway.change_marker"

// ChangeSource lists apps modified since a point in time.
type ChangeSource interface {
	Connected() bool
	Changes(ctx context.Context, since time.Time, limit int) (steam.Changes, error)
}

// KV stores the change marker.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// ChangeFeed pulls modified app ids into the gateway's app bucket.
type ChangeFeed struct {
	src   ChangeSource
	kv    KV
	queue *Queue
	limit int
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewChangeFeed(src ChangeSource, kv KV, queue *Queue, limit int, bus eventbus.Bus, log logx.Logger) *ChangeFeed {
	if limit <= 0 {
		limit = 1000
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ChangeFeed{src: src, kv: kv, queue: queue, limit: limit, bus: bus, log: log, now: time.Now}
}

// Poll fetches one page of changes and advances the stored marker. The
// first poll only records the current time; history is not replayed.
func (f *ChangeFeed) Poll(ctx context.Context) (int, error) {
	if !f.src.Connected() {
		return 0, nil
	}
	raw, err := f.kv.Get(ctx, changeMarkerKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("load change marker: %w", err)
	}
	if raw == "" {
		return 0, f.save(ctx, f.now())
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f.log.Warn("malformed change marker, restarting from now", logx.String("marker", raw))
		return 0, f.save(ctx, f.now())
	}
	since := time.Unix(sec, 0)

	ch, err := f.src.Changes(ctx, since, f.limit)
	if err != nil {
		return 0, fmt.Errorf("poll changes: %w", err)
	}
	added, err := f.queue.Enqueue(ch.AppIDs, Apps)
	if err != nil {
		return added, fmt.Errorf("enqueue changes: %w", err)
	}
	if ch.Marker.After(since) {
		if err := f.save(ctx, ch.Marker); err != nil {
			return added, err
		}
	}

	f.bus.Publish(eventbus.Event{Type: eventbus.ChangeFeedPolled, Data: eventbus.Batch{Apps: added}})
	if added > 0 {
		f.log.Debug("change feed polled",
			logx.Int("changed", len(ch.AppIDs)), logx.Int("queued", added), logx.Bool("more", ch.More))
	}
	return added, nil
}

func (f *ChangeFeed) save(ctx context.Context, at time.Time) error {
	if err := f.kv.Put(ctx, changeMarkerKey, strconv.FormatInt(at.Unix(), 10)); err != nil {
		return fmt.Errorf("save change marker: %w", err)
	}
	return nil
}
