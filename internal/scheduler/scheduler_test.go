package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/scheduler"
	"steamwatch/internal/storage"
	logx "steamwatch/pkg/logx"
)

type fakeStore struct {
	cands    []domain.Candidate
	watchers int
	entities int
	prices   []domain.PriceTarget
	byID     map[string]domain.PriceTarget
	err      error
}

func (f *fakeStore) DueCandidates(context.Context, domain.WatcherType, time.Time) ([]domain.Candidate, error) {
	return f.cands, f.err
}

func (f *fakeStore) WatcherLoad(context.Context, domain.WatcherType) (int, int, error) {
	return f.watchers, f.entities, nil
}

func (f *fakeStore) DuePriceTargets(_ context.Context, _ domain.PriceType, _ string, _ time.Time, limit int) ([]domain.PriceTarget, error) {
	if len(f.prices) > limit {
		return f.prices[:limit], nil
	}
	return f.prices, nil
}

func (f *fakeStore) PriceTarget(_ context.Context, id string) (domain.PriceTarget, error) {
	p, ok := f.byID[id]
	if !ok {
		return domain.PriceTarget{}, storage.ErrNotFound
	}
	return p, nil
}

func cand(id string, watchers int, last time.Time) domain.Candidate {
	return domain.Candidate{EntityState: domain.EntityState{Type: domain.TypeNews, EntityID: id, LastChecked: last}, WatcherCount: watchers}
}

func TestPriorityMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	freq := 4 * time.Hour

	prev := -1.0
	for h := 0; h <= 48; h += 4 {
		p := scheduler.Priority(2, now.Add(-time.Duration(h)*time.Hour), now, freq, 1.5)
		if p <= prev {
			t.Fatalf("priority not increasing across periods: %vh -> %v (prev %v)", h, p, prev)
		}
		prev = p
	}
	// Within one period the score holds.
	if a, b := scheduler.Priority(1, now.Add(-5*time.Hour), now, freq, 2), scheduler.Priority(1, now.Add(-7*time.Hour), now, freq, 2); a != b {
		t.Fatalf("same period scored differently: %v vs %v", a, b)
	}
	last := now.Add(-9 * time.Hour)
	if scheduler.Priority(3, last, now, freq, 2) <= scheduler.Priority(2, last, now, freq, 2) {
		t.Fatalf("priority not increasing in watcher count")
	}
	if got := scheduler.Priority(1, time.Time{}, now, 24*time.Hour, 2); got != 1+365*2 {
		t.Fatalf("never-checked priority=%v", got)
	}
}

func TestNextDuePrefersAgedEntity(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		cands: []domain.Candidate{
			cand("busy", 5, now.Add(-5*time.Hour)),   // 5 + 1*2
			cand("quiet", 1, now.Add(-17*time.Hour)), // 1 + 4*2
		},
		watchers: 6, entities: 3,
	}
	s := scheduler.New(st, map[domain.WatcherType]time.Duration{domain.TypeNews: 4 * time.Hour}, scheduler.WithClock(func() time.Time { return now }))
	got, ok, err := s.NextDue(context.Background(), domain.TypeNews)
	if err != nil || !ok {
		t.Fatalf("NextDue: ok=%v err=%v", ok, err)
	}
	if got.EntityID != "quiet" {
		t.Fatalf("picked %q want quiet", got.EntityID)
	}

	top, err := s.NextDueN(context.Background(), domain.TypeNews, 5)
	if err != nil || len(top) != 2 || top[0].EntityID != "quiet" || top[1].EntityID != "busy" {
		t.Fatalf("NextDueN=%+v err=%v", top, err)
	}

	// Ties keep store order.
	st.cands = []domain.Candidate{cand("a", 1, now.Add(-5*time.Hour)), cand("b", 1, now.Add(-6*time.Hour))}
	if got, _, _ := s.NextDue(context.Background(), domain.TypeNews); got.EntityID != "a" {
		t.Fatalf("tie broken to %q", got.EntityID)
	}
}

func TestNextDueSkipsZeroWatchersAndEmpty(t *testing.T) {
	t.Parallel()

	st := &fakeStore{cands: []domain.Candidate{cand("orphan", 0, time.Time{})}}
	s := scheduler.New(st, nil)
	if _, ok, err := s.NextDue(context.Background(), domain.TypeNews); ok || err != nil {
		t.Fatalf("zero-watcher entity selected: ok=%v err=%v", ok, err)
	}

	st.cands = nil
	if _, ok, err := s.NextDue(context.Background(), domain.TypeNews); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	boom := errors.New("locked")
	st.err = boom
	if _, _, err := s.NextDue(context.Background(), domain.TypeNews); !errors.Is(err, boom) {
		t.Fatalf("store error not surfaced: %v", err)
	}
}

func TestNextDueBatchPutsCandidateFirst(t *testing.T) {
	t.Parallel()

	head := domain.PriceTarget{ID: "app:9:USD", ItemID: 9, Type: domain.PriceApp, Currency: "USD", Final: 999}
	st := &fakeStore{
		prices: []domain.PriceTarget{
			{ID: "app:1:USD", ItemID: 1, Type: domain.PriceApp, Currency: "USD"},
			{ID: "app:2:USD", ItemID: 2, Type: domain.PriceApp, Currency: "USD"},
			{ID: "app:3:USD", ItemID: 3, Type: domain.PriceApp, Currency: "USD"},
		},
		byID: map[string]domain.PriceTarget{head.ID: head},
	}
	s := scheduler.New(st, nil)
	c := domain.Candidate{EntityState: domain.EntityState{Type: domain.TypePrice, EntityID: head.ID}, WatcherCount: 1}

	got, err := s.NextDueBatch(context.Background(), c, 3)
	if err != nil {
		t.Fatalf("NextDueBatch: %v", err)
	}
	if len(got) != 3 || got[0].ID != head.ID || got[0].Final != 999 || got[1].ID != "app:1:USD" {
		t.Fatalf("batch=%+v", got)
	}

	if _, err := s.NextDueBatch(context.Background(), domain.Candidate{EntityState: domain.EntityState{EntityID: "bogus"}}, 3); err == nil {
		t.Fatalf("expected error for malformed id")
	}
}

func TestNeverCheckedEntityDropsOutAfterProcessing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sched.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.AddWatcher(ctx, domain.Watcher{ID: 1, Type: domain.TypeNews, EntityID: "A", ChannelID: "c1"}, nil); err != nil {
		t.Fatalf("AddWatcher: %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := scheduler.New(db, map[domain.WatcherType]time.Duration{domain.TypeNews: 4 * time.Hour},
		scheduler.WithClock(func() time.Time { return clock }))

	got, ok, err := s.NextDue(ctx, domain.TypeNews)
	if err != nil || !ok || got.EntityID != "A" {
		t.Fatalf("NextDue=%+v ok=%v err=%v", got, ok, err)
	}
	if err := db.TouchEntities(ctx, domain.TypeNews, []string{"A"}, now); err != nil {
		t.Fatalf("TouchEntities: %v", err)
	}

	for _, after := range []time.Duration{time.Minute, 2 * time.Hour, 4*time.Hour - time.Second} {
		clock = now.Add(after)
		if _, ok, err := s.NextDue(ctx, domain.TypeNews); ok || err != nil {
			t.Fatalf("entity due again after %v (err=%v)", after, err)
		}
	}
	clock = now.Add(4*time.Hour + time.Second)
	if got, ok, _ := s.NextDue(ctx, domain.TypeNews); !ok || got.EntityID != "A" {
		t.Fatalf("entity not due after one period")
	}
}
