package watcher

import (
	"context"
	"sync"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSched struct {
	cands []domain.Candidate
	batch []domain.PriceTarget
	err   error
}

func (f *fakeSched) NextDue(ctx context.Context, t domain.WatcherType) (domain.Candidate, bool, error) {
	top, err := f.NextDueN(ctx, t, 1)
	if err != nil || len(top) == 0 {
		return domain.Candidate{}, false, err
	}
	return top[0], true, nil
}

func (f *fakeSched) NextDueN(_ context.Context, _ domain.WatcherType, n int) ([]domain.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.cands) > n {
		return f.cands[:n], nil
	}
	return f.cands, nil
}

func (f *fakeSched) NextDueBatch(context.Context, domain.Candidate, int) ([]domain.PriceTarget, error) {
	return f.batch, nil
}

type sent struct {
	match domain.Match
	embed transport.Embed
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, m domain.Match, embeds ...transport.Embed) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	for _, e := range embeds {
		f.sent = append(f.sent, sent{m, e})
	}
	return 1, nil
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.embed.Title
	}
	return out
}

type fakeEntities struct {
	saved   []domain.EntityState
	touched []string
	deleted []string
	err     error
}

func (f *fakeEntities) SaveEntityState(_ context.Context, st domain.EntityState) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, st)
	return nil
}

func (f *fakeEntities) TouchEntities(_ context.Context, _ domain.WatcherType, ids []string, _ time.Time) error {
	f.touched = append(f.touched, ids...)
	return f.err
}

func (f *fakeEntities) DeleteEntity(_ context.Context, _ domain.WatcherType, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type conn bool

func (c conn) Connected() bool { return bool(c) }

type fakeNews struct {
	conn
	items []steam.NewsItem
	err   error
}

func (f *fakeNews) AppNews(context.Context, uint32, int) ([]steam.NewsItem, error) {
	return f.items, f.err
}

type fakeForum struct {
	conn
	pages   [][]steam.Topic
	fetched []int
	err     error
}

func (f *fakeForum) ForumTopics(_ context.Context, _ string, page int) (steam.TopicPage, error) {
	f.fetched = append(f.fetched, page)
	if f.err != nil {
		return steam.TopicPage{}, f.err
	}
	if page > len(f.pages) {
		return steam.TopicPage{}, nil
	}
	return steam.TopicPage{Topics: f.pages[page-1], More: page < len(f.pages)}, nil
}

type fakeUGC struct {
	conn
	details []steam.UGCDetail
	history map[string][]steam.ChangeNote
	histErr error
	calls   []string
}

func (f *fakeUGC) UGCDetails(context.Context, []string) ([]steam.UGCDetail, error) {
	return f.details, nil
}

func (f *fakeUGC) UGCChangeHistory(_ context.Context, id string, _ int) ([]steam.ChangeNote, error) {
	f.calls = append(f.calls, id)
	return f.history[id], f.histErr
}

type fakePrices struct {
	conn
	prices []steam.Price
	err    error
}

func (f *fakePrices) Prices(context.Context, domain.PriceType, string, []uint32) ([]steam.Price, error) {
	return f.prices, f.err
}

type fakePriceStore struct {
	saved   map[string]domain.PriceTarget
	touched []string
	deleted []string
}

func (f *fakePriceStore) SavePriceTarget(_ context.Context, p domain.PriceTarget) error {
	if f.saved == nil {
		f.saved = map[string]domain.PriceTarget{}
	}
	f.saved[p.ID] = p
	return nil
}

func (f *fakePriceStore) TouchPriceTargets(_ context.Context, ids []string, _ time.Time) error {
	f.touched = append(f.touched, ids...)
	return nil
}

func (f *fakePriceStore) DeletePriceTarget(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func testDeps(s Scheduler, n Notifier) Deps {
	return Deps{Scheduler: s, Notifier: n, Log: logx.Nop(), Now: func() time.Time { return testNow }}
}

func candidate(t domain.WatcherType, id string, marker time.Time) domain.Candidate {
	return domain.Candidate{
		EntityState:  domain.EntityState{Type: t, EntityID: id, MarkerTime: marker},
		WatcherCount: 1,
	}
}
