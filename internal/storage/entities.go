package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"steamwatch/internal/domain"
)

// DueCandidates returns every entity of type t that has at least one active
// watcher and was never checked or last checked before dueBefore. Rows come
// in a stable order (entity id) so that priority ties resolve the same way
// on every call.
func (s *DB) DueCandidates(ctx context.Context, t domain.WatcherType, dueBefore time.Time) ([]domain.Candidate, error) {
	if t == domain.TypePrice {
		return s.duePriceCandidates(ctx, dueBefore)
	}
	rows, err := s.query(ctx, `
		SELECT e.entity_id, e.app_id, e.name, e.last_checked, e.marker_time, e.marker_id, COUNT(w.id)
		FROM entity_state e
		JOIN watcher w ON w.watcher_type = e.watcher_type AND w.entity_id = e.entity_id AND w.inactive = 0
		WHERE e.watcher_type = ? AND (e.last_checked IS NULL OR e.last_checked < ?)
		GROUP BY e.entity_id, e.app_id, e.name, e.last_checked, e.marker_time, e.marker_id
		ORDER BY e.entity_id`,
		string(t), dueBefore.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			c       domain.Candidate
			appID   int64
			checked sql.NullInt64
			marker  sql.NullInt64
		)
		if err := rows.Scan(&c.EntityID, &appID, &c.Name, &checked, &marker, &c.MarkerID, &c.WatcherCount); err != nil {
			return nil, err
		}
		c.Type = t
		c.AppID = uint32(appID)
		c.LastChecked = fromMS(checked)
		c.MarkerTime = fromMS(marker)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *DB) duePriceCandidates(ctx context.Context, dueBefore time.Time) ([]domain.Candidate, error) {
	rows, err := s.query(ctx, `
		SELECT p.id, p.item_id, p.name, p.last_checked, COUNT(w.id)
		FROM price_target p
		JOIN watcher w ON w.watcher_type = ? AND w.entity_id = p.id AND w.inactive = 0
		WHERE p.last_checked IS NULL OR p.last_checked < ?
		GROUP BY p.id, p.item_id, p.name, p.last_checked
		ORDER BY p.id`,
		string(domain.TypePrice), dueBefore.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			c       domain.Candidate
			itemID  int64
			checked sql.NullInt64
		)
		if err := rows.Scan(&c.EntityID, &itemID, &c.Name, &checked, &c.WatcherCount); err != nil {
			return nil, err
		}
		c.Type = domain.TypePrice
		c.AppID = uint32(itemID)
		c.LastChecked = fromMS(checked)
		out = append(out, c)
	}
	return out, rows.Err()
}

// WatcherLoad returns the number of active watchers of type t and the number
// of distinct entities they are bound to.
func (s *DB) WatcherLoad(ctx context.Context, t domain.WatcherType) (watchers, entities int, err error) {
	err = s.queryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT entity_id) FROM watcher WHERE watcher_type = ? AND inactive = 0`,
		string(t),
	).Scan(&watchers, &entities)
	return watchers, entities, err
}

// EntityState loads one entity row.
func (s *DB) EntityState(ctx context.Context, t domain.WatcherType, id string) (domain.EntityState, error) {
	var (
		st      = domain.EntityState{Type: t, EntityID: id}
		appID   int64
		checked sql.NullInt64
		marker  sql.NullInt64
	)
	err := s.queryRow(ctx,
		`SELECT app_id, name, last_checked, marker_time, marker_id FROM entity_state WHERE watcher_type = ? AND entity_id = ?`,
		string(t), id,
	).Scan(&appID, &st.Name, &checked, &marker, &st.MarkerID)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrNotFound
	}
	if err != nil {
		return st, err
	}
	st.AppID = uint32(appID)
	st.LastChecked = fromMS(checked)
	st.MarkerTime = fromMS(marker)
	return st, nil
}

// SaveEntityState inserts or replaces one entity row.
func (s *DB) SaveEntityState(ctx context.Context, st domain.EntityState) error {
	_, err := s.exec(ctx, `
		INSERT INTO entity_state(watcher_type, entity_id, app_id, name, last_checked, marker_time, marker_id)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(watcher_type, entity_id) DO UPDATE SET
			app_id = excluded.app_id,
			name = excluded.name,
			last_checked = excluded.last_checked,
			marker_time = excluded.marker_time,
			marker_id = excluded.marker_id`,
		string(st.Type), st.EntityID, int64(st.AppID), st.Name,
		msOrNull(st.LastChecked), msOrNull(st.MarkerTime), st.MarkerID,
	)
	return err
}

// TouchEntities sets last_checked for the given entities without touching
// their markers.
func (s *DB) TouchEntities(ctx context.Context, t domain.WatcherType, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, at.UnixMilli(), string(t))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.exec(ctx,
		`UPDATE entity_state SET last_checked = ? WHERE watcher_type = ? AND entity_id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	return err
}

// DeleteEntity removes an entity together with every watcher bound to it
// and their mentions.
func (s *DB) DeleteEntity(ctx context.Context, t domain.WatcherType, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteWatchersTx(ctx, tx, t, id); err != nil {
			return err
		}
		return s.txExec(ctx, tx, `DELETE FROM entity_state WHERE watcher_type = ? AND entity_id = ?`, string(t), id)
	})
}

func (s *DB) deleteWatchersTx(ctx context.Context, tx *sql.Tx, t domain.WatcherType, entityID string) error {
	if err := s.txExec(ctx, tx,
		`DELETE FROM watcher_mention WHERE watcher_id IN (SELECT id FROM watcher WHERE watcher_type = ? AND entity_id = ?)`,
		string(t), entityID,
	); err != nil {
		return err
	}
	return s.txExec(ctx, tx, `DELETE FROM watcher WHERE watcher_type = ? AND entity_id = ?`, string(t), entityID)
}

// PurgeOrphanEntities deletes entity rows no watcher refers to any more.
func (s *DB) PurgeOrphanEntities(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `
		DELETE FROM entity_state
		WHERE NOT EXISTS (
			SELECT 1 FROM watcher w
			WHERE w.watcher_type = entity_state.watcher_type AND w.entity_id = entity_state.entity_id
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
