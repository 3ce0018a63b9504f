package steam

import (
	"errors"
	"fmt"
	"time"

	"steamwatch/internal/domain"
)

var (
	// ErrNotConnected is returned while the upstream is considered down.
	ErrNotConnected = errors.New("steam: not connected")
	// ErrUnsupported is returned for calls this client cannot serve.
	ErrUnsupported = errors.New("steam: unsupported")
)

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("steam: %s: http %d", e.URL, e.Status)
}

// NewsItem is one news or announcement post.
type NewsItem struct {
	ID        string
	Title     string
	URL       string
	Author    string
	Contents  string
	FeedLabel string
	Date      time.Time
}

// Recommendation states of a curator review.
const (
	Recommended    = 0
	NotRecommended = 1
	Informational  = 2
)

// CuratorReview is one curator recommendation.
type CuratorReview struct {
	AppID          uint32
	Recommendation int
	Blurb          string
	URL            string
	Posted         time.Time
}

// Topic is one forum listing entry.
type Topic struct {
	ID       string
	Title    string
	Author   string
	URL      string
	Replies  int
	LastPost time.Time
	Pinned   bool
	Locked   bool
	Solved   bool
}

// TopicPage is one page of a forum listing, newest first.
type TopicPage struct {
	Topics []Topic
	More   bool
}

// WorkshopItem is one workshop listing entry.
type WorkshopItem struct {
	ID         string
	AppID      uint32
	Title      string
	Creator    string
	PreviewURL string
	Created    time.Time
	Updated    time.Time
}

// WorkshopPage is one page of a workshop listing with the cursor for the
// next one. An empty Next means the listing is exhausted.
type WorkshopPage struct {
	Items []WorkshopItem
	Next  string
}

// UGCDetail is the current state of one user-generated item.
type UGCDetail struct {
	ID         string
	AppID      uint32
	Title      string
	PreviewURL string
	Result     int
	Banned     bool
	BanReason  string
	Updated    time.Time
}

// Removed reports whether the item is gone for good.
func (d UGCDetail) Removed() bool { return d.Result != 1 || d.Banned }

// ChangeNote is one entry of an item's change history.
type ChangeNote struct {
	Time        time.Time
	Description string
}

// Price is the current storefront price of one item. Available is false
// when the storefront no longer sells it in the requested currency.
type Price struct {
	ItemID    uint32
	Name      string
	Currency  string
	Available bool
	Initial   int64
	Final     int64
	Discount  int
}

// ProductInfo is bulk app and package metadata.
type ProductInfo struct {
	Apps     []domain.AppInfo
	Packages []domain.PackageInfo
}

// Changes lists apps modified since a marker.
type Changes struct {
	AppIDs []uint32
	Marker time.Time
	More   bool
}
