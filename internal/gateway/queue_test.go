package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	offline bool
	info    steam.ProductInfo
	err     error
	calls   int
}

func (f *fakeSource) Connected() bool { return !f.offline }

func (f *fakeSource) ProductInfo(context.Context, []uint32, []uint32) (steam.ProductInfo, error) {
	f.calls++
	return f.info, f.err
}

type rewind struct {
	typ domain.PriceType
	ids []uint32
	to  time.Time
}

type fakeStore struct {
	mu       sync.Mutex
	apps     []domain.AppInfo
	packages []domain.PackageInfo
	rewinds  []rewind
	free     []domain.FreePackage
	err      error
}

func (f *fakeStore) UpsertApps(_ context.Context, apps []domain.AppInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps = append(f.apps, apps...)
	return f.err
}

func (f *fakeStore) UpsertPackages(_ context.Context, pkgs []domain.PackageInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages = append(f.packages, pkgs...)
	return nil
}

func (f *fakeStore) RewindPrices(_ context.Context, t domain.PriceType, ids []uint32, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewinds = append(f.rewinds, rewind{t, ids, to})
	return int64(len(ids)), nil
}

func (f *fakeStore) UpsertFreePackage(_ context.Context, p domain.FreePackage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free = append(f.free, p)
	return nil
}

func seq(from, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(from + i)
	}
	return out
}

func newTestQueue(t *testing.T, src Source, store Store) *Queue {
	t.Helper()
	q := New(Config{SnapshotDir: t.TempDir()}, src, store, eventbus.New(), logx.Nop())
	q.now = func() time.Time { return testNow }
	return q
}

func TestDequeueSplitsCapacity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		apps, pkgs   int
		wantA, wantP int
	}{
		{"small apps bucket yields to packages", 10, 200, 10, 90},
		{"small packages bucket yields to apps", 200, 10, 90, 10},
		{"both full share evenly", 200, 200, 50, 50},
		{"both small", 3, 4, 3, 4},
		{"apps only", 150, 0, 100, 0},
		{"empty", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := newTestQueue(t, &fakeSource{}, &fakeStore{})
			if _, err := q.Enqueue(seq(1, tt.apps), Apps); err != nil {
				t.Fatalf("Enqueue apps: %v", err)
			}
			if _, err := q.Enqueue(seq(1, tt.pkgs), Packages); err != nil {
				t.Fatalf("Enqueue packages: %v", err)
			}
			b := q.Dequeue()
			if len(b.Apps) != tt.wantA || len(b.Packages) != tt.wantP {
				t.Fatalf("batch apps=%d packages=%d want %d/%d", len(b.Apps), len(b.Packages), tt.wantA, tt.wantP)
			}
			a, p := q.Len()
			if a != tt.apps-tt.wantA || p != tt.pkgs-tt.wantP {
				t.Fatalf("remaining %d/%d", a, p)
			}
		})
	}
}

func TestEnqueueDedupsWithinBucket(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, &fakeSource{}, &fakeStore{})
	if n, _ := q.Enqueue([]uint32{1, 2, 2, 3}, Apps); n != 3 {
		t.Fatalf("added %d want 3", n)
	}
	if n, _ := q.Enqueue([]uint32{3, 4}, Apps); n != 1 {
		t.Fatalf("added %d want 1", n)
	}
	if n, _ := q.Enqueue([]uint32{1}, Packages); n != 1 {
		t.Fatalf("buckets must not share dedup state")
	}

	b := q.Dequeue()
	if len(b.Apps) != 4 || b.Apps[0] != 1 || b.Apps[3] != 4 {
		t.Fatalf("apps %v", b.Apps)
	}
	// A dequeued id may be queued again.
	if n, _ := q.Enqueue([]uint32{1}, Apps); n != 1 {
		t.Fatalf("re-enqueue after dequeue rejected")
	}
}

func TestSnapshotRestoresBucketsAndDedup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	q := New(Config{SnapshotDir: dir}, &fakeSource{}, &fakeStore{}, nil, logx.Nop())
	_, _ = q.Enqueue([]uint32{5, 6}, Apps)
	_, _ = q.Enqueue([]uint32{7}, Packages)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := New(Config{SnapshotDir: dir}, &fakeSource{}, &fakeStore{}, nil, logx.Nop())
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a, p := r.Len(); a != 2 || p != 1 {
		t.Fatalf("restored %d/%d", a, p)
	}
	if n, _ := r.Enqueue([]uint32{6, 8}, Apps); n != 1 {
		t.Fatalf("dedup set not rebuilt, added %d", n)
	}
}

func TestDrainPersistsAndRewindsPrices(t *testing.T) {
	t.Parallel()

	src := &fakeSource{info: steam.ProductInfo{
		Apps: []domain.AppInfo{{ID: 10, Name: "Game", Type: "game"}},
		Packages: []domain.PackageInfo{
			{ID: 100, BillingType: domain.BillingBillOnceOnly, AppIDs: []uint32{10}},
			{ID: 17906, BillingType: domain.BillingBillOnceOnly},
			{ID: 101, BillingType: domain.BillingFreeOnDemand, AppIDs: []uint32{10},
				StartTime: testNow.Add(-time.Hour), ExpiryTime: testNow.Add(48 * time.Hour)},
			{ID: 102, BillingType: domain.BillingFreeOnDemand, AppIDs: []uint32{10}},
		},
	}}
	store := &fakeStore{}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	q := New(Config{}, src, store, bus, logx.Nop())
	q.now = func() time.Time { return testNow }
	_, _ = q.Enqueue([]uint32{10}, Apps)
	_, _ = q.Enqueue([]uint32{100, 17906, 101, 102}, Packages)

	res := q.DrainOnce(context.Background())
	if res.Err != nil || res.Idle {
		t.Fatalf("DrainOnce: %+v", res)
	}
	if len(store.apps) != 1 || len(store.packages) != 4 {
		t.Fatalf("persisted apps=%d packages=%d", len(store.apps), len(store.packages))
	}
	if len(store.rewinds) != 1 {
		t.Fatalf("rewinds %+v", store.rewinds)
	}
	rw := store.rewinds[0]
	if rw.typ != domain.PriceSub || len(rw.ids) != 1 || rw.ids[0] != 100 || !rw.to.Equal(testNow.Add(-30*24*time.Hour)) {
		t.Fatalf("rewind %+v", rw)
	}
	if len(store.free) != 1 {
		t.Fatalf("free packages %+v", store.free)
	}
	if fp := store.free[0]; fp.ID != 101 || fp.AppID != 10 || fp.Type != "game" || fp.Active {
		t.Fatalf("free package %+v", fp)
	}

	ev := <-events
	if b, ok := ev.Data.(eventbus.Batch); ev.Type != eventbus.GatewayBatch || !ok || b.Apps != 1 || b.Packages != 4 || b.Err {
		t.Fatalf("event %+v", ev)
	}
	if res := q.DrainOnce(context.Background()); !res.Idle {
		t.Fatalf("second drain %+v", res)
	}
}

func TestDrainQueuesLinkedPackages(t *testing.T) {
	t.Parallel()

	src := &fakeSource{info: steam.ProductInfo{
		Apps:     []domain.AppInfo{{ID: 10, Type: "game", PackageIDs: []uint32{100, 200, 300}}},
		Packages: []domain.PackageInfo{{ID: 100, BillingType: domain.BillingBillOnceOnly}},
	}}
	q := New(Config{}, src, &fakeStore{}, nil, logx.Nop())
	q.now = func() time.Time { return testNow }
	_, _ = q.Enqueue([]uint32{10}, Apps)
	_, _ = q.Enqueue([]uint32{100}, Packages)

	if res := q.DrainOnce(context.Background()); res.Err != nil {
		t.Fatalf("DrainOnce: %+v", res)
	}
	if a, p := q.Len(); a != 0 || p != 2 {
		t.Fatalf("pending apps=%d packages=%d", a, p)
	}
	if b := q.Dequeue(); len(b.Packages) != 2 || b.Packages[0] != 200 || b.Packages[1] != 300 {
		t.Fatalf("batch %+v", b)
	}
}

func TestDrainFailureRequeues(t *testing.T) {
	t.Parallel()

	boom := errors.New("bridge timeout")
	src := &fakeSource{err: boom}
	q := New(Config{Cooldown: 3 * time.Minute}, src, &fakeStore{}, nil, logx.Nop())
	_, _ = q.Enqueue([]uint32{1, 2}, Apps)

	res := q.DrainOnce(context.Background())
	if !errors.Is(res.Err, boom) || res.Delay != 3*time.Minute {
		t.Fatalf("result %+v", res)
	}
	if a, _ := q.Len(); a != 2 {
		t.Fatalf("requeued %d want 2", a)
	}

	src.err = steam.ErrUnsupported
	q.DrainOnce(context.Background())
	if a, _ := q.Len(); a != 0 {
		t.Fatalf("unsupported batch kept %d ids", a)
	}

	src.offline = true
	_, _ = q.Enqueue([]uint32{9}, Packages)
	calls := src.calls
	if res := q.DrainOnce(context.Background()); res.Idle || src.calls != calls {
		t.Fatalf("offline drain %+v calls=%d", res, src.calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := New(Config{}, &fakeSource{}, &fakeStore{}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
