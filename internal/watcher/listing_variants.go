package watcher

import (
	"context"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/upstream/steam"
)

// ListingConfig sizes listing walks.
type ListingConfig struct {
	MaxPages int
	PerPage  int // workshop only
}

// ForumSource serves forum listings.
type ForumSource interface {
	Connectivity
	ForumTopics(ctx context.Context, forumID string, page int) (steam.TopicPage, error)
}

// WorkshopSource serves workshop listings.
type WorkshopSource interface {
	Connectivity
	WorkshopItems(ctx context.Context, appID uint32, byUpdate bool, cursor string, perPage int) (steam.WorkshopPage, error)
}

func topicEntry(t steam.Topic) ListingEntry {
	return ListingEntry{ID: t.ID, Time: t.LastPost, Sticky: t.Pinned || t.Locked || t.Solved}
}

func workshopEntry(w steam.WorkshopItem) ListingEntry {
	return ListingEntry{ID: w.ID, Time: w.Created}
}

// Forum watches a discussion forum for topics with new posts.
type Forum struct {
	deps  Deps
	src   ForumSource
	store EntityStore
	cfg   ListingConfig
}

var _ Variant = (*Forum)(nil)

func NewForum(d Deps, src ForumSource, store EntityStore, cfg ListingConfig) *Forum {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	return &Forum{deps: d.withDefaults(domain.TypeForum), src: src, store: store, cfg: cfg}
}

func (f *Forum) Type() domain.WatcherType { return domain.TypeForum }

func (f *Forum) PollOnce(ctx context.Context) (Cycle, error) {
	return pollEntity(ctx, f.deps, domain.TypeForum, f.src, f.store, f.check)
}

func (f *Forum) check(ctx context.Context, c domain.Candidate, _ time.Time) (domain.EntityState, int, error) {
	st := c.EntityState
	fetch := func(ctx context.Context, page int) ([]steam.Topic, bool, error) {
		p, err := f.src.ForumTopics(ctx, c.EntityID, page)
		return p.Topics, p.More, err
	}

	if st.MarkerTime.IsZero() {
		topics, _, err := fetch(ctx, 1)
		if err != nil {
			return st, 0, err
		}
		st.MarkerTime, st.MarkerID = newestEntry(topics, topicEntry)
		return st, 0, nil
	}

	fresh, _, err := CollectListing(ctx, fetch, topicEntry, st.MarkerTime, f.cfg.MaxPages)
	if err != nil {
		return st, 0, err
	}
	match := domain.Match{Type: domain.TypeForum, EntityID: c.EntityID}
	for i, t := range fresh {
		if err := f.deps.notify(ctx, match, topicEmbed(c.Name, t)); err != nil {
			return st, i, err
		}
	}
	if len(fresh) > 0 {
		last := fresh[len(fresh)-1]
		st.MarkerTime, st.MarkerID = last.LastPost, last.ID
	}
	return st, len(fresh), nil
}

// Workshop watches an app's workshop for new submissions.
type Workshop struct {
	deps  Deps
	src   WorkshopSource
	store EntityStore
	cfg   ListingConfig
}

var _ Variant = (*Workshop)(nil)

func NewWorkshop(d Deps, src WorkshopSource, store EntityStore, cfg ListingConfig) *Workshop {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 20
	}
	return &Workshop{deps: d.withDefaults(domain.TypeWorkshop), src: src, store: store, cfg: cfg}
}

func (w *Workshop) Type() domain.WatcherType { return domain.TypeWorkshop }

func (w *Workshop) PollOnce(ctx context.Context) (Cycle, error) {
	return pollEntity(ctx, w.deps, domain.TypeWorkshop, w.src, w.store, w.check)
}

func (w *Workshop) check(ctx context.Context, c domain.Candidate, _ time.Time) (domain.EntityState, int, error) {
	st := c.EntityState
	appID, err := parseUint32(c.EntityID)
	if err != nil {
		return st, 0, err
	}
	cursor := ""
	fetch := func(ctx context.Context, _ int) ([]steam.WorkshopItem, bool, error) {
		p, err := w.src.WorkshopItems(ctx, appID, false, cursor, w.cfg.PerPage)
		cursor = p.Next
		return p.Items, p.Next != "", err
	}

	if st.MarkerTime.IsZero() {
		items, _, err := fetch(ctx, 1)
		if err != nil {
			return st, 0, err
		}
		st.MarkerTime, st.MarkerID = newestEntry(items, workshopEntry)
		return st, 0, nil
	}

	fresh, _, err := CollectListing(ctx, fetch, workshopEntry, st.MarkerTime, w.cfg.MaxPages)
	if err != nil {
		return st, 0, err
	}
	match := domain.Match{Type: domain.TypeWorkshop, EntityID: c.EntityID}
	for i, it := range fresh {
		if err := w.deps.notify(ctx, match, workshopEmbed(c.Name, it)); err != nil {
			return st, i, err
		}
	}
	if len(fresh) > 0 {
		last := fresh[len(fresh)-1]
		st.MarkerTime, st.MarkerID = last.Created, last.ID
	}
	return st, len(fresh), nil
}

func newestEntry[T any](items []T, entry func(T) ListingEntry) (time.Time, string) {
	var (
		at time.Time
		id string
	)
	for _, it := range items {
		if e := entry(it); e.Time.After(at) {
			at, id = e.Time, e.ID
		}
	}
	return at, id
}
