package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"steamwatch/internal/domain"
)

// UpsertApps stores bulk app metadata in one transaction.
func (s *DB) UpsertApps(ctx context.Context, apps []domain.AppInfo) error {
	if len(apps) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, a := range apps {
			if err := s.txExec(ctx, tx, `
				INSERT INTO app_info(id, name, type, last_update) VALUES(?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, last_update = excluded.last_update`,
				int64(a.ID), a.Name, a.Type, msOrNull(a.LastUpdate),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertPackages stores bulk package metadata in one transaction.
func (s *DB) UpsertPackages(ctx context.Context, pkgs []domain.PackageInfo) error {
	if len(pkgs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range pkgs {
			if err := s.txExec(ctx, tx, `
				INSERT INTO package_info(id, name, billing_type, license_type, status, app_ids, last_update) VALUES(?,?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					billing_type = excluded.billing_type,
					license_type = excluded.license_type,
					status = excluded.status,
					app_ids = excluded.app_ids,
					last_update = excluded.last_update`,
				int64(p.ID), p.Name, p.BillingType, p.LicenseType, p.Status, joinIDs(p.AppIDs), msOrNull(p.LastUpdate),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// App loads stored app metadata.
func (s *DB) App(ctx context.Context, id uint32) (domain.AppInfo, error) {
	a := domain.AppInfo{ID: id}
	var updated sql.NullInt64
	err := s.queryRow(ctx, `SELECT name, type, last_update FROM app_info WHERE id = ?`, int64(id)).Scan(&a.Name, &a.Type, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.LastUpdate = fromMS(updated)
	return a, err
}

// Get returns a kv value.
func (s *DB) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.queryRow(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

// Put stores a kv value.
func (s *DB) Put(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `INSERT INTO kv(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func joinIDs(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
