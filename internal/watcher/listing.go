package watcher

import (
	"context"
	"sort"
	"time"
)

// DefaultMaxPages bounds a listing walk.
const DefaultMaxPages = 5

// ListingEntry is what the boundary walk needs to know about an item.
// Sticky items (pinned, locked, solved) stay at the head of a listing no
// matter how old they are.
type ListingEntry struct {
	ID     string
	Time   time.Time
	Sticky bool
}

// PageFetcher returns one page (1-based) of a newest-first listing and
// whether another page follows.
type PageFetcher[T any] func(ctx context.Context, page int) (items []T, more bool, err error)

// CollectListing walks a newest-first listing and returns every item newer
// than marker, oldest first, deduplicated by id.
//
// The walk stops at the first page holding an item at or older than the
// marker (the boundary). A sticky item at the boundary does not count: it
// never ages out of the head of the listing and would hide everything
// behind it, so the walk goes on to the next page. Sticky items that open
// the first page are skipped for the same reason. maxPages is a hard
// ceiling either way.
func CollectListing[T any](ctx context.Context, fetch PageFetcher[T], entry func(T) ListingEntry, marker time.Time, maxPages int) ([]T, int, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	var (
		out  []T
		seen = make(map[string]struct{})
	)
	pages := 0
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, pages, err
		}
		items, more, err := fetch(ctx, page)
		if err != nil {
			return nil, pages, err
		}
		pages++

		boundary := -1
		leading := page == 1
		for i, it := range items {
			e := entry(it)
			if leading && e.Sticky {
				if e.Time.After(marker) {
					out, seen = collect(out, seen, it, e)
				}
				continue
			}
			leading = false
			if !e.Time.After(marker) {
				if boundary < 0 {
					boundary = i
				}
				continue
			}
			out, seen = collect(out, seen, it, e)
		}

		if boundary >= 0 && !entry(items[boundary]).Sticky {
			break
		}
		if !more || len(items) == 0 {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return entry(out[i]).Time.Before(entry(out[j]).Time) })
	return out, pages, nil
}

func collect[T any](out []T, seen map[string]struct{}, it T, e ListingEntry) ([]T, map[string]struct{}) {
	if _, dup := seen[e.ID]; dup {
		return out, seen
	}
	seen[e.ID] = struct{}{}
	return append(out, it), seen
}
