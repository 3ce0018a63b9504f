// Package domain holds the persistent model shared by the scheduling,
// change-detection and delivery pipeline.
package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by store lookups that match nothing.
var ErrNotFound = errors.New("not found")

// WatcherType identifies a polled source type. Every watcher subscription
// and every entity state row carries exactly one type.
type WatcherType string

const (
	TypeNews      WatcherType = "news"
	TypeGroupNews WatcherType = "group"
	TypeCurator   WatcherType = "curator"
	TypeForum     WatcherType = "forum"
	TypeWorkshop  WatcherType = "workshop"
	TypeUGC       WatcherType = "ugc"
	TypePrice     WatcherType = "price"
	TypeFree      WatcherType = "free"
)

// AllTypes lists every watcher type in a stable order.
var AllTypes = []WatcherType{
	TypeNews, TypeGroupNews, TypeCurator, TypeForum,
	TypeWorkshop, TypeUGC, TypePrice, TypeFree,
}

func (t WatcherType) Valid() bool {
	for _, v := range AllTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (t WatcherType) String() string { return string(t) }

// EntityState is the last-known state of one polled subject.
//
// A zero LastChecked means "never checked". MarkerTime/MarkerID hold the
// newest item already seen (post time, review id, time_updated, ...).
type EntityState struct {
	Type        WatcherType
	EntityID    string
	AppID       uint32
	Name        string
	LastChecked time.Time
	MarkerTime  time.Time
	MarkerID    string
}

// Candidate is an entity that is due for a recheck together with the number
// of active watchers bound to it.
type Candidate struct {
	EntityState
	WatcherCount int
}

// PriceType is the storefront item class a price target refers to.
type PriceType string

const (
	PriceApp    PriceType = "app"
	PriceBundle PriceType = "bundle"
	PriceSub    PriceType = "sub"
)

// PriceTarget is one tracked (item, currency) pair. Prices are in the
// currency's minor unit.
type PriceTarget struct {
	ID               string
	ItemID           uint32
	Type             PriceType
	Currency         string
	Name             string
	Initial          int64
	Final            int64
	Discount         int
	LastChecked      time.Time
	LastUpdate       time.Time
	UnavailableSince time.Time
}

// Known reports whether the target has been priced at least once.
func (p PriceTarget) Known() bool { return !p.LastUpdate.IsZero() }

// PriceTargetID builds the natural key of a price target.
func PriceTargetID(t PriceType, itemID uint32, currency string) string {
	return string(t) + ":" + strconv.FormatUint(uint64(itemID), 10) + ":" + strings.ToUpper(currency)
}

// ParsePriceTargetID is the inverse of PriceTargetID.
func ParsePriceTargetID(id string) (t PriceType, itemID uint32, currency string, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[2] == "" {
		return "", 0, "", false
	}
	switch PriceType(parts[0]) {
	case PriceApp, PriceBundle, PriceSub:
	default:
		return "", 0, "", false
	}
	n, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", 0, "", false
	}
	return PriceType(parts[0]), uint32(n), parts[2], true
}

// FreePackage is a promotional package with a free-to-keep window.
type FreePackage struct {
	ID          uint32
	AppID       uint32
	Type        string
	StartTime   time.Time
	EndTime     time.Time
	Active      bool
	LastChecked time.Time
	LastUpdate  time.Time
}

// MentionType distinguishes role mentions from member mentions.
type MentionType string

const (
	MentionRole   MentionType = "role"
	MentionMember MentionType = "member"
)

// Mention is one mention row attached to a watcher.
type Mention struct {
	ID   string
	Type MentionType
}

// Channel is a webhook-style delivery sink.
type Channel struct {
	ID           string
	GuildID      string
	WebhookID    string
	WebhookToken string
}

// Watcher binds one entity (or, with an empty EntityID, a whole type) to
// one delivery channel.
type Watcher struct {
	ID        int64
	Type      WatcherType
	EntityID  string
	ChannelID string
	ThreadID  string
	Username  string
	AvatarURL string
	Inactive  bool
}

// SubscriptionRow is one (watcher, mention) row of the fan-out join. A
// watcher without mentions yields a single row with a zero Mention.
type SubscriptionRow struct {
	WatcherID int64
	ThreadID  string
	Username  string
	AvatarURL string
	Channel   Channel
	Mention   Mention
}

// Match selects the watchers a notification applies to. An empty EntityID
// matches type-scoped watchers.
type Match struct {
	Type     WatcherType
	EntityID string
}

// AppInfo is bulk app metadata.
type AppInfo struct {
	ID         uint32
	Name       string
	Type       string
	LastUpdate time.Time
	// PackageIDs lists the packages that grant the app. Not persisted.
	PackageIDs []uint32
}

// PackageInfo is bulk package metadata.
type PackageInfo struct {
	ID          uint32
	Name        string
	BillingType int
	LicenseType int
	Status      int
	AppIDs      []uint32
	ExpiryTime  time.Time
	StartTime   time.Time
	LastUpdate  time.Time
}
