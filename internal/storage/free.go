package storage

import (
	"context"
	"database/sql"
	"time"

	"steamwatch/internal/domain"
)

const freeColumns = `id, app_id, type, start_time, end_time, active, last_checked, last_update`

func (s *DB) scanFreePackages(rows *sql.Rows) ([]domain.FreePackage, error) {
	defer rows.Close()
	var out []domain.FreePackage
	for rows.Next() {
		var (
			p                                domain.FreePackage
			id, appID                        int64
			active                           int
			start, end, checked, lastUpdated sql.NullInt64
		)
		if err := rows.Scan(&id, &appID, &p.Type, &start, &end, &active, &checked, &lastUpdated); err != nil {
			return nil, err
		}
		p.ID = uint32(id)
		p.AppID = uint32(appID)
		p.StartTime = fromMS(start)
		p.EndTime = fromMS(end)
		p.Active = active != 0
		p.LastChecked = fromMS(checked)
		p.LastUpdate = fromMS(lastUpdated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveFreePackages returns packages already announced as free.
func (s *DB) ActiveFreePackages(ctx context.Context) ([]domain.FreePackage, error) {
	rows, err := s.query(ctx, `SELECT `+freeColumns+` FROM free_package WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return s.scanFreePackages(rows)
}

// PendingFreePackages returns inactive packages whose start time is before
// startBefore and whose window has not ended at now.
func (s *DB) PendingFreePackages(ctx context.Context, startBefore, now time.Time) ([]domain.FreePackage, error) {
	rows, err := s.query(ctx, `
		SELECT `+freeColumns+` FROM free_package
		WHERE active = 0 AND start_time IS NOT NULL AND start_time <= ?
		AND (end_time IS NULL OR end_time > ?)
		ORDER BY start_time, id`,
		startBefore.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return s.scanFreePackages(rows)
}

// UpsertFreePackage records a discovered or re-checked package. The active
// flag of an existing row is kept unless p.Active is set.
func (s *DB) UpsertFreePackage(ctx context.Context, p domain.FreePackage) error {
	_, err := s.exec(ctx, `
		INSERT INTO free_package(`+freeColumns+`)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			app_id = excluded.app_id,
			type = excluded.type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			active = CASE WHEN excluded.active = 1 THEN 1 ELSE free_package.active END,
			last_checked = excluded.last_checked,
			last_update = excluded.last_update`,
		int64(p.ID), int64(p.AppID), p.Type, msOrNull(p.StartTime), msOrNull(p.EndTime), boolInt(p.Active),
		msOrNull(p.LastChecked), msOrNull(p.LastUpdate),
	)
	return err
}

// DeleteFreePackage removes one tracked package.
func (s *DB) DeleteFreePackage(ctx context.Context, id uint32) error {
	_, err := s.exec(ctx, `DELETE FROM free_package WHERE id = ?`, int64(id))
	return err
}

// PurgeFreePackages deletes packages whose window ended before `before`.
func (s *DB) PurgeFreePackages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM free_package WHERE end_time IS NOT NULL AND end_time < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
