package storage

import (
	"context"
	"database/sql"

	"steamwatch/internal/domain"
)

// Subscriptions returns the fan-out join for a match: every active watcher
// with its delivery channel, one row per mention. Rows are ordered by
// watcher id so callers can group them in a single pass.
func (s *DB) Subscriptions(ctx context.Context, m domain.Match) ([]domain.SubscriptionRow, error) {
	rows, err := s.query(ctx, `
		SELECT w.id, w.thread_id, w.username, w.avatar_url,
			c.channel_id, c.guild_id, c.webhook_id, c.webhook_token,
			m.entity_id, m.type
		FROM watcher w
		JOIN channel_webhook c ON c.channel_id = w.channel_id
		LEFT JOIN watcher_mention m ON m.watcher_id = w.id
		WHERE w.watcher_type = ? AND w.entity_id = ? AND w.inactive = 0
		ORDER BY w.id, m.entity_id`,
		string(m.Type), m.EntityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SubscriptionRow
	for rows.Next() {
		var (
			r          domain.SubscriptionRow
			mentionID  sql.NullString
			mentionTyp sql.NullString
		)
		if err := rows.Scan(&r.WatcherID, &r.ThreadID, &r.Username, &r.AvatarURL,
			&r.Channel.ID, &r.Channel.GuildID, &r.Channel.WebhookID, &r.Channel.WebhookToken,
			&mentionID, &mentionTyp); err != nil {
			return nil, err
		}
		if mentionID.Valid {
			r.Mention = domain.Mention{ID: mentionID.String, Type: domain.MentionType(mentionTyp.String)}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteChannel purges a delivery channel. Watchers bound to it stop
// resolving in Subscriptions; cleaning them up is left to subscription
// management.
func (s *DB) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := s.exec(ctx, `DELETE FROM channel_webhook WHERE channel_id = ?`, channelID)
	return err
}

// SaveChannel inserts or replaces a delivery channel.
func (s *DB) SaveChannel(ctx context.Context, c domain.Channel) error {
	_, err := s.exec(ctx, `
		INSERT INTO channel_webhook(channel_id, guild_id, webhook_id, webhook_token) VALUES(?,?,?,?)
		ON CONFLICT(channel_id) DO UPDATE SET
			guild_id = excluded.guild_id,
			webhook_id = excluded.webhook_id,
			webhook_token = excluded.webhook_token`,
		c.ID, c.GuildID, c.WebhookID, c.WebhookToken,
	)
	return err
}

// AddWatcher stores a watcher, its mentions and, when missing, the entity
// row it points to. Subscription commands call this.
func (s *DB) AddWatcher(ctx context.Context, w domain.Watcher, mentions []domain.Mention) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.txExec(ctx, tx, `
			INSERT INTO watcher(id, watcher_type, entity_id, channel_id, thread_id, username, avatar_url, inactive)
			VALUES(?,?,?,?,?,?,?,?)`,
			w.ID, string(w.Type), w.EntityID, w.ChannelID, w.ThreadID, w.Username, w.AvatarURL, boolInt(w.Inactive),
		); err != nil {
			return err
		}
		for _, m := range mentions {
			if err := s.txExec(ctx, tx,
				`INSERT INTO watcher_mention(watcher_id, entity_id, type) VALUES(?,?,?) ON CONFLICT(watcher_id, entity_id) DO NOTHING`,
				w.ID, m.ID, string(m.Type),
			); err != nil {
				return err
			}
		}
		if w.EntityID == "" || w.Type == domain.TypePrice || w.Type == domain.TypeFree {
			return nil
		}
		return s.txExec(ctx, tx,
			`INSERT INTO entity_state(watcher_type, entity_id) VALUES(?,?) ON CONFLICT(watcher_type, entity_id) DO NOTHING`,
			string(w.Type), w.EntityID,
		)
	})
}

// CountWatchers returns how many watchers of type t point at entityID.
func (s *DB) CountWatchers(ctx context.Context, t domain.WatcherType, entityID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM watcher WHERE watcher_type = ? AND entity_id = ?`, string(t), entityID).Scan(&n)
	return n, err
}
