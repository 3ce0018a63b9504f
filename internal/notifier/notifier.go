package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"steamwatch/internal/delivery"
	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

// Subscriptions resolves the fan-out join for a match.
type Subscriptions interface {
	Subscriptions(ctx context.Context, m domain.Match) ([]domain.SubscriptionRow, error)
}

// Enqueuer accepts delivery items.
type Enqueuer interface {
	Enqueue(items ...delivery.Item) error
}

// Notifier turns (match, embeds) into delivery items.
type Notifier struct {
	subs  Subscriptions
	queue Enqueuer
	log   logx.Logger
	newID func() string
}

func New(subs Subscriptions, queue Enqueuer, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{subs: subs, queue: queue, log: log, newID: uuid.NewString}
}

// Notify enqueues one item per active watcher matching m and returns how
// many were enqueued.
func (n *Notifier) Notify(ctx context.Context, m domain.Match, embeds ...transport.Embed) (int, error) {
	if len(embeds) == 0 {
		return 0, nil
	}
	rows, err := n.subs.Subscriptions(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("notifier: resolve subscriptions: %w", err)
	}
	items := n.build(rows, embeds)
	if len(items) == 0 {
		return 0, nil
	}
	if err := n.queue.Enqueue(items...); err != nil {
		return 0, fmt.Errorf("notifier: enqueue: %w", err)
	}
	n.log.Debug("notification fanned out",
		logx.String("type", string(m.Type)), logx.String("entity", m.EntityID), logx.Int("items", len(items)))
	return len(items), nil
}

func (n *Notifier) build(rows []domain.SubscriptionRow, embeds []transport.Embed) []delivery.Item {
	var (
		out      []delivery.Item
		mentions []domain.Mention
	)
	flush := func(r domain.SubscriptionRow) {
		out = append(out, delivery.Item{
			ID:        n.newID(),
			WatcherID: r.WatcherID,
			ChannelID: r.Channel.ID,
			WebhookID: r.Channel.WebhookID,
			Token:     r.Channel.WebhookToken,
			ThreadID:  r.ThreadID,
			Mentions:  RenderMentions(r.Channel.GuildID, mentions),
			Message: transport.Message{
				Username:  r.Username,
				AvatarURL: r.AvatarURL,
				Embeds:    append([]transport.Embed(nil), embeds...),
			},
		})
		mentions = nil
	}

	// Rows may be interleaved when the store does not order them, so group
	// by first appearance.
	order := make([]int64, 0, len(rows))
	groups := make(map[int64][]domain.SubscriptionRow, len(rows))
	for _, r := range rows {
		if _, ok := groups[r.WatcherID]; !ok {
			order = append(order, r.WatcherID)
		}
		groups[r.WatcherID] = append(groups[r.WatcherID], r)
	}
	for _, id := range order {
		g := groups[id]
		for _, r := range g {
			if r.Mention.ID != "" {
				mentions = append(mentions, r.Mention)
			}
		}
		flush(g[0])
	}
	return out
}

// RenderMentions renders mention rows as channel mention tokens. A mention
// of the guild id itself is "@everyone".
func RenderMentions(guildID string, mentions []domain.Mention) string {
	parts := make([]string, 0, len(mentions))
	for _, m := range mentions {
		switch {
		case m.ID == "":
			continue
		case m.ID == guildID:
			parts = append(parts, "@everyone")
		case m.Type == domain.MentionRole:
			parts = append(parts, "<@&"+m.ID+">")
		default:
			parts = append(parts, "<@"+m.ID+">")
		}
	}
	return strings.Join(parts, " ")
}
