package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"steamwatch/internal/domain"
)

const priceColumns = `id, item_id, price_type, currency, name, initial_price, final_price, discount, last_checked, last_update, unavailable_since`

func scanPriceTarget(sc interface{ Scan(...any) error }) (domain.PriceTarget, error) {
	var (
		p                      domain.PriceTarget
		itemID                 int64
		ptype                  string
		checked, updated, gone sql.NullInt64
	)
	if err := sc.Scan(&p.ID, &itemID, &ptype, &p.Currency, &p.Name, &p.Initial, &p.Final, &p.Discount, &checked, &updated, &gone); err != nil {
		return p, err
	}
	p.ItemID = uint32(itemID)
	p.Type = domain.PriceType(ptype)
	p.LastChecked = fromMS(checked)
	p.LastUpdate = fromMS(updated)
	p.UnavailableSince = fromMS(gone)
	return p, nil
}

// PriceTarget loads one price target by id.
func (s *DB) PriceTarget(ctx context.Context, id string) (domain.PriceTarget, error) {
	p, err := scanPriceTarget(s.queryRow(ctx, `SELECT `+priceColumns+` FROM price_target WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// DuePriceTargets returns up to limit due targets sharing a price type and
// currency, each with at least one active watcher.
func (s *DB) DuePriceTargets(ctx context.Context, t domain.PriceType, currency string, dueBefore time.Time, limit int) ([]domain.PriceTarget, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, `
		SELECT `+priceColumns+` FROM price_target p
		WHERE p.price_type = ? AND p.currency = ? AND (p.last_checked IS NULL OR p.last_checked < ?)
		AND EXISTS (SELECT 1 FROM watcher w WHERE w.watcher_type = ? AND w.entity_id = p.id AND w.inactive = 0)
		ORDER BY p.id
		LIMIT ?`,
		string(t), currency, dueBefore.UnixMilli(), string(domain.TypePrice), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceTarget
	for rows.Next() {
		p, err := scanPriceTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePriceTarget inserts or replaces a price target.
func (s *DB) SavePriceTarget(ctx context.Context, p domain.PriceTarget) error {
	_, err := s.exec(ctx, `
		INSERT INTO price_target(`+priceColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			initial_price = excluded.initial_price,
			final_price = excluded.final_price,
			discount = excluded.discount,
			last_checked = excluded.last_checked,
			last_update = excluded.last_update,
			unavailable_since = excluded.unavailable_since`,
		p.ID, int64(p.ItemID), string(p.Type), p.Currency, p.Name, p.Initial, p.Final, p.Discount,
		msOrNull(p.LastChecked), msOrNull(p.LastUpdate), msOrNull(p.UnavailableSince),
	)
	return err
}

// TouchPriceTargets marks targets as checked at the given time in one write.
func (s *DB) TouchPriceTargets(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.exec(ctx, `UPDATE price_target SET last_checked = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

// DeletePriceTarget removes a target and every price watcher bound to it.
func (s *DB) DeletePriceTarget(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteWatchersTx(ctx, tx, domain.TypePrice, id); err != nil {
			return err
		}
		return s.txExec(ctx, tx, `DELETE FROM price_target WHERE id = ?`, id)
	})
}

// RewindPrices sets last_checked of every price row for the given items to
// `to`, so the price watcher picks them up on its next cycle.
func (s *DB) RewindPrices(ctx context.Context, t domain.PriceType, itemIDs []uint32, to time.Time) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(itemIDs)+2)
	args = append(args, to.UnixMilli(), string(t))
	for _, id := range itemIDs {
		args = append(args, int64(id))
	}
	res, err := s.exec(ctx,
		`UPDATE price_target SET last_checked = ? WHERE price_type = ? AND item_id IN (`+placeholders(len(itemIDs))+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
