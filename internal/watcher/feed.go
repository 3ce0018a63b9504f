package watcher

import (
	"context"
	"sort"
	"strconv"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	"steamwatch/internal/upstream/steam"
)

// FeedConfig sizes feed fetches.
type FeedConfig struct {
	Count int // items fetched per check
}

// NewsSource serves app news.
type NewsSource interface {
	Connectivity
	AppNews(ctx context.Context, appID uint32, count int) ([]steam.NewsItem, error)
}

// GroupSource serves community group announcements.
type GroupSource interface {
	Connectivity
	GroupNews(ctx context.Context, clanID uint32, count int) ([]steam.NewsItem, error)
}

// CuratorSource serves curator recommendations.
type CuratorSource interface {
	Connectivity
	CuratorReviews(ctx context.Context, curatorID uint32, count int) ([]steam.CuratorReview, error)
}

type feedItem struct {
	id    string
	at    time.Time
	embed transport.Embed
}

type feedFetch func(ctx context.Context, id uint32, name string, count int) ([]feedItem, error)

// Feed polls a time-ordered feed: app news, group announcements or curator
// reviews. Only items strictly newer than the stored marker are emitted,
// oldest first. The first check of an entity only records the marker.
type Feed struct {
	typ   domain.WatcherType
	deps  Deps
	conn  Connectivity
	store EntityStore
	cfg   FeedConfig
	fetch feedFetch
}

var _ Variant = (*Feed)(nil)

func newFeed(t domain.WatcherType, d Deps, conn Connectivity, store EntityStore, cfg FeedConfig, fetch feedFetch) *Feed {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	return &Feed{typ: t, deps: d.withDefaults(t), conn: conn, store: store, cfg: cfg, fetch: fetch}
}

// NewNews watches app news.
func NewNews(d Deps, src NewsSource, store EntityStore, cfg FeedConfig) *Feed {
	return newFeed(domain.TypeNews, d, src, store, cfg, func(ctx context.Context, id uint32, name string, count int) ([]feedItem, error) {
		items, err := src.AppNews(ctx, id, count)
		if err != nil {
			return nil, err
		}
		out := make([]feedItem, 0, len(items))
		for _, it := range items {
			out = append(out, feedItem{id: it.ID, at: it.Date, embed: newsEmbed(name, it)})
		}
		return out, nil
	})
}

// NewGroupNews watches community group announcements.
func NewGroupNews(d Deps, src GroupSource, store EntityStore, cfg FeedConfig) *Feed {
	return newFeed(domain.TypeGroupNews, d, src, store, cfg, func(ctx context.Context, id uint32, name string, count int) ([]feedItem, error) {
		items, err := src.GroupNews(ctx, id, count)
		if err != nil {
			return nil, err
		}
		out := make([]feedItem, 0, len(items))
		for _, it := range items {
			out = append(out, feedItem{id: it.ID, at: it.Date, embed: newsEmbed(name, it)})
		}
		return out, nil
	})
}

// NewCurator watches curator recommendations.
func NewCurator(d Deps, src CuratorSource, store EntityStore, cfg FeedConfig) *Feed {
	return newFeed(domain.TypeCurator, d, src, store, cfg, func(ctx context.Context, id uint32, name string, count int) ([]feedItem, error) {
		reviews, err := src.CuratorReviews(ctx, id, count)
		if err != nil {
			return nil, err
		}
		out := make([]feedItem, 0, len(reviews))
		for _, r := range reviews {
			out = append(out, feedItem{
				id:    strconv.FormatUint(uint64(r.AppID), 10),
				at:    r.Posted,
				embed: reviewEmbed(name, r),
			})
		}
		return out, nil
	})
}

func (f *Feed) Type() domain.WatcherType { return f.typ }

func (f *Feed) PollOnce(ctx context.Context) (Cycle, error) {
	return pollEntity(ctx, f.deps, f.typ, f.conn, f.store, f.check)
}

func (f *Feed) check(ctx context.Context, c domain.Candidate, _ time.Time) (domain.EntityState, int, error) {
	st := c.EntityState
	id, err := parseUint32(c.EntityID)
	if err != nil {
		return st, 0, err
	}
	items, err := f.fetch(ctx, id, c.Name, f.cfg.Count)
	if err != nil {
		return st, 0, err
	}

	fresh := newerFeedItems(items, st.MarkerTime)
	if len(fresh) == 0 {
		return st, 0, nil
	}
	newest := fresh[len(fresh)-1]
	if st.MarkerTime.IsZero() {
		st.MarkerTime, st.MarkerID = newest.at, newest.id
		return st, 0, nil
	}

	match := domain.Match{Type: f.typ, EntityID: c.EntityID}
	for i, it := range fresh {
		if err := f.deps.notify(ctx, match, it.embed); err != nil {
			return st, i, err
		}
	}
	st.MarkerTime, st.MarkerID = newest.at, newest.id
	return st, len(fresh), nil
}

// newerFeedItems returns items strictly newer than marker, oldest first.
func newerFeedItems(items []feedItem, marker time.Time) []feedItem {
	out := make([]feedItem, 0, len(items))
	for _, it := range items {
		if it.at.After(marker) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}
