package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/durable"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

// Bucket is one of the two id spaces.
type Bucket int

const (
	Apps Bucket = iota
	Packages
)

func (b Bucket) String() string {
	if b == Packages {
		return "packages"
	}
	return "apps"
}

const (
	DefaultCapacity = 100
	// priceRewind is how far back purchasable packages' price rows are
	// moved so the price watcher treats them as overdue.
	priceRewind = 30 * 24 * time.Hour
)

// Config controls batching and pacing.
type Config struct {
	Capacity    int
	Interval    time.Duration // between batches while ids remain
	Cooldown    time.Duration // after a failed batch
	SnapshotDir string        // empty keeps the buckets in memory
}

// Source serves bulk metadata.
type Source interface {
	Connected() bool
	ProductInfo(ctx context.Context, appIDs, packageIDs []uint32) (steam.ProductInfo, error)
}

// Store persists what a batch returns.
type Store interface {
	UpsertApps(ctx context.Context, apps []domain.AppInfo) error
	UpsertPackages(ctx context.Context, pkgs []domain.PackageInfo) error
	RewindPrices(ctx context.Context, t domain.PriceType, itemIDs []uint32, to time.Time) (int64, error)
	UpsertFreePackage(ctx context.Context, p domain.FreePackage) error
}

// Batch is one dequeued slice of both buckets.
type Batch struct {
	Apps     []uint32
	Packages []uint32
}

func (b Batch) Empty() bool { return len(b.Apps) == 0 && len(b.Packages) == 0 }

// Result describes one DrainOnce call.
type Result struct {
	Batch Batch
	Err   error
	Delay time.Duration
	Idle  bool
}

// Queue is the batch gateway. Enqueue may be called from any goroutine.
type Queue struct {
	cfg   Config
	src   Source
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	buckets [2]*durable.Queue[uint32]
	pending [2]map[uint32]struct{}

	wake chan struct{}
}

func New(cfg Config, src Source, store Store, bus eventbus.Bus, log logx.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{cfg: cfg, src: src, store: store, bus: bus, log: log, now: time.Now, wake: make(chan struct{}, 1)}
	for _, b := range []Bucket{Apps, Packages} {
		path := ""
		if cfg.SnapshotDir != "" {
			path = filepath.Join(cfg.SnapshotDir, "gateway-"+b.String()+".json")
		}
		q.buckets[b] = durable.New[uint32](path, log.With(logx.String("bucket", b.String())))
		q.pending[b] = map[uint32]struct{}{}
	}
	return q
}

// Load restores both buckets and rebuilds the dedup sets.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for b, bq := range q.buckets {
		if err := bq.Load(); err != nil {
			return fmt.Errorf("gateway %s: %w", Bucket(b), err)
		}
		set := make(map[uint32]struct{}, bq.Len())
		for _, id := range bq.Items() {
			set[id] = struct{}{}
		}
		q.pending[b] = set
	}
	return nil
}

// Enqueue adds ids not already pending in the bucket and returns how many
// were new.
func (q *Queue) Enqueue(ids []uint32, b Bucket) (int, error) {
	q.mu.Lock()
	set := q.pending[b]
	fresh := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		fresh = append(fresh, id)
	}
	var err error
	if len(fresh) > 0 {
		if err = q.buckets[b].Push(fresh...); err != nil {
			for _, id := range fresh {
				delete(set, id)
			}
			fresh = nil
		}
	}
	q.mu.Unlock()

	if len(fresh) > 0 {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return len(fresh), err
}

// Dequeue removes the next batch. A bucket takes up to half the capacity,
// plus whatever the other bucket does not need.
func (q *Queue) Dequeue() Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	capacity := q.cfg.Capacity
	lenA, lenB := q.buckets[Apps].Len(), q.buckets[Packages].Len()
	takeA := min(lenA, max(capacity/2, capacity-lenB))
	takeB := min(lenB, capacity-takeA)

	batch := Batch{Apps: q.buckets[Apps].PopN(takeA), Packages: q.buckets[Packages].PopN(takeB)}
	for _, id := range batch.Apps {
		delete(q.pending[Apps], id)
	}
	for _, id := range batch.Packages {
		delete(q.pending[Packages], id)
	}
	return batch
}

// Len returns the pending ids per bucket.
func (q *Queue) Len() (apps, packages int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buckets[Apps].Len(), q.buckets[Packages].Len()
}

func (q *Queue) Snapshot() error {
	return errors.Join(q.buckets[Apps].Snapshot(), q.buckets[Packages].Snapshot())
}

// Close writes the final snapshots.
func (q *Queue) Close() error {
	return errors.Join(q.buckets[Apps].Close(), q.buckets[Packages].Close())
}

// Run drains until ctx is cancelled, parking while both buckets are empty.
func (q *Queue) Run(ctx context.Context) error {
	for {
		res := q.DrainOnce(ctx)
		if res.Idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}
		t := time.NewTimer(res.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// DrainOnce fetches and persists one batch. A failed fetch puts the ids
// back; an upstream without bulk metadata support drops them.
func (q *Queue) DrainOnce(ctx context.Context) Result {
	if !q.src.Connected() {
		if a, p := q.Len(); a+p == 0 {
			return Result{Idle: true}
		}
		return Result{Delay: q.cfg.Cooldown, Err: steam.ErrNotConnected}
	}
	batch := q.Dequeue()
	if batch.Empty() {
		return Result{Idle: true}
	}
	log := q.log.With(logx.Int("apps", len(batch.Apps)), logx.Int("packages", len(batch.Packages)))

	res := Result{Batch: batch, Delay: q.cfg.Interval}
	info, err := q.src.ProductInfo(ctx, batch.Apps, batch.Packages)
	switch {
	case errors.Is(err, steam.ErrUnsupported):
		log.Warn("bulk metadata unsupported by upstream, dropping batch")
		res.Err = err
	case err != nil:
		log.Warn("bulk metadata fetch failed, requeueing", logx.Err(err))
		res.Err, res.Delay = err, q.cfg.Cooldown
		q.requeue(batch)
	default:
		if err := q.persist(ctx, info); err != nil {
			log.Error("persist batch failed, requeueing", logx.Err(err))
			res.Err, res.Delay = err, q.cfg.Cooldown
			q.requeue(batch)
		}
	}

	pendingA, pendingP := q.Len()
	q.bus.Publish(eventbus.Event{Type: eventbus.GatewayBatch, Data: eventbus.Batch{
		Apps:     len(batch.Apps),
		Packages: len(batch.Packages),
		Pending:  pendingA + pendingP,
		Err:      res.Err != nil,
	}})
	return res
}

func (q *Queue) requeue(b Batch) {
	if _, err := q.Enqueue(b.Apps, Apps); err != nil {
		q.log.Error("requeue apps failed", logx.Err(err))
	}
	if _, err := q.Enqueue(b.Packages, Packages); err != nil {
		q.log.Error("requeue packages failed", logx.Err(err))
	}
}

func (q *Queue) persist(ctx context.Context, info steam.ProductInfo) error {
	now := q.now()
	if err := q.store.UpsertApps(ctx, info.Apps); err != nil {
		return fmt.Errorf("upsert apps: %w", err)
	}
	if err := q.store.UpsertPackages(ctx, info.Packages); err != nil {
		return fmt.Errorf("upsert packages: %w", err)
	}

	appTypes := make(map[uint32]string, len(info.Apps))
	for _, a := range info.Apps {
		appTypes[a.ID] = a.Type
	}
	fetched := make(map[uint32]struct{}, len(info.Packages))
	var purchasable []uint32
	for _, p := range info.Packages {
		fetched[p.ID] = struct{}{}
		if p.Purchasable() {
			purchasable = append(purchasable, p.ID)
		}
		if !p.FreePromotion(now) {
			continue
		}
		fp := domain.FreePackage{ID: p.ID, StartTime: p.StartTime, EndTime: p.ExpiryTime, LastChecked: now, LastUpdate: now}
		if len(p.AppIDs) > 0 {
			fp.AppID = p.AppIDs[0]
			fp.Type = appTypes[fp.AppID]
		}
		if err := q.store.UpsertFreePackage(ctx, fp); err != nil {
			return fmt.Errorf("upsert free package %d: %w", p.ID, err)
		}
		q.log.Info("free promotion discovered", logx.Uint32("package", p.ID), logx.Uint32("app", fp.AppID),
			logx.Time("start", p.StartTime), logx.Time("end", p.ExpiryTime))
	}

	n, err := q.store.RewindPrices(ctx, domain.PriceSub, purchasable, now.Add(-priceRewind))
	if err != nil {
		return fmt.Errorf("rewind prices: %w", err)
	}
	if n > 0 {
		q.log.Debug("price targets rewound", logx.Int64("rows", n))
	}

	// Packages granting a changed app are fetched in a later batch.
	var linked []uint32
	for _, a := range info.Apps {
		for _, id := range a.PackageIDs {
			if _, ok := fetched[id]; !ok {
				linked = append(linked, id)
			}
		}
	}
	if added, err := q.Enqueue(linked, Packages); err != nil {
		return fmt.Errorf("enqueue linked packages: %w", err)
	} else if added > 0 {
		q.log.Debug("linked packages queued", logx.Int("packages", added))
	}
	return nil
}
