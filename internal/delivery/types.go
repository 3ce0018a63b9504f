// Package delivery is the persistent outbound notification queue.
//
// Items are drained one at a time. Every attempt ends in one of three
// outcomes:
//   - sent: continue at the normal interval while items remain
//   - purged: the target is gone for good; its channel record is deleted
//     and the item is dropped
//   - requeued: anything else; the item goes back to the tail and a 5xx
//     failure stretches the next wait to the cool-down
//
// Items are only ever dropped by success or purge, so delivery is
// at-least-once.
package delivery

import (
	"context"
	"time"

	"steamwatch/internal/transport"
)

// Config controls drain pacing.
type Config struct {
	Interval     time.Duration // between attempts
	Cooldown     time.Duration // after a server-side failure
	SendTimeout  time.Duration // per attempt
	SnapshotPath string
}

// Item is one queued notification. Mentions is rendered into the message
// content at send time.
type Item struct {
	ID        string            `json:"id"`
	WatcherID int64             `json:"watcher_id"`
	ChannelID string            `json:"channel_id"`
	WebhookID string            `json:"webhook_id"`
	Token     string            `json:"token"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Mentions  string            `json:"mentions,omitempty"`
	Message   transport.Message `json:"message"`
	Attempts  int               `json:"attempts,omitempty"`
}

// Outcome classifies a delivery attempt.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeSent
	OutcomePurged
	OutcomeRequeued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomePurged:
		return "purged"
	case OutcomeRequeued:
		return "requeued"
	default:
		return "idle"
	}
}

// Result describes one DrainOnce call.
type Result struct {
	Outcome Outcome
	Item    Item
	Err     error
	// Delay is how long to wait before the next attempt.
	Delay time.Duration
}

// ChannelPurger deletes a delivery channel record.
type ChannelPurger interface {
	DeleteChannel(ctx context.Context, channelID string) error
}
