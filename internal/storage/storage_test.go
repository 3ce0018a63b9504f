package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"steamwatch/internal/domain"
	logx "steamwatch/pkg/logx"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "steamwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func addWatcher(t *testing.T, db *DB, id int64, typ domain.WatcherType, entity, channel string, mentions ...domain.Mention) {
	t.Helper()
	if err := db.AddWatcher(context.Background(), domain.Watcher{ID: id, Type: typ, EntityID: entity, ChannelID: channel}, mentions); err != nil {
		t.Fatalf("AddWatcher(%d): %v", id, err)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &DB{dialect: dialectPostgres}
	if got := pg.rebind("a = ? AND b IN (?,?)"); got != "a = $1 AND b IN ($2,$3)" {
		t.Fatalf("postgres rebind=%q", got)
	}
	lite := &DB{dialect: dialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind=%q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestDueCandidatesExcludesUnwatched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	addWatcher(t, db, 1, domain.TypeNews, "440", "c1")
	addWatcher(t, db, 2, domain.TypeNews, "440", "c2")
	addWatcher(t, db, 3, domain.TypeNews, "570", "c1")
	if err := db.SaveEntityState(ctx, domain.EntityState{Type: domain.TypeNews, EntityID: "730"}); err != nil {
		t.Fatalf("SaveEntityState: %v", err)
	}
	// Inactive watchers do not count.
	if err := db.AddWatcher(ctx, domain.Watcher{ID: 4, Type: domain.TypeNews, EntityID: "10", ChannelID: "c1", Inactive: true}, nil); err != nil {
		t.Fatalf("AddWatcher: %v", err)
	}

	now := time.Now()
	got, err := db.DueCandidates(ctx, domain.TypeNews, now)
	if err != nil {
		t.Fatalf("DueCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", got)
	}
	if got[0].EntityID != "440" || got[0].WatcherCount != 2 || got[1].EntityID != "570" || got[1].WatcherCount != 1 {
		t.Fatalf("unexpected candidates %+v", got)
	}

	if err := db.TouchEntities(ctx, domain.TypeNews, []string{"440"}, now); err != nil {
		t.Fatalf("TouchEntities: %v", err)
	}
	got, err = db.DueCandidates(ctx, domain.TypeNews, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DueCandidates: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "570" {
		t.Fatalf("touched entity should not be due: %+v", got)
	}

	watchers, entities, err := db.WatcherLoad(ctx, domain.TypeNews)
	if err != nil {
		t.Fatalf("WatcherLoad: %v", err)
	}
	if watchers != 3 || entities != 2 {
		t.Fatalf("WatcherLoad=(%d,%d)", watchers, entities)
	}
}

func TestEntityStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	if _, err := db.EntityState(ctx, domain.TypeUGC, "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	at := time.UnixMilli(1_700_000_000_000)
	in := domain.EntityState{Type: domain.TypeUGC, EntityID: "1", AppID: 440, Name: "hat", LastChecked: at, MarkerTime: at.Add(-time.Hour), MarkerID: "x"}
	if err := db.SaveEntityState(ctx, in); err != nil {
		t.Fatalf("SaveEntityState: %v", err)
	}
	out, err := db.EntityState(ctx, domain.TypeUGC, "1")
	if err != nil {
		t.Fatalf("EntityState: %v", err)
	}
	if !out.LastChecked.Equal(in.LastChecked) || !out.MarkerTime.Equal(in.MarkerTime) || out.Name != "hat" || out.AppID != 440 || out.MarkerID != "x" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDeleteEntityRemovesWatchers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	addWatcher(t, db, 1, domain.TypeUGC, "99", "c1", domain.Mention{ID: "r1", Type: domain.MentionRole})
	if err := db.DeleteEntity(ctx, domain.TypeUGC, "99"); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	n, err := db.CountWatchers(ctx, domain.TypeUGC, "99")
	if err != nil || n != 0 {
		t.Fatalf("CountWatchers=%d err=%v", n, err)
	}
	if _, err := db.EntityState(ctx, domain.TypeUGC, "99"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entity should be gone, got %v", err)
	}
}

func TestSubscriptionsJoin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	if err := db.SaveChannel(ctx, domain.Channel{ID: "c1", GuildID: "g1", WebhookID: "w1", WebhookToken: "tok"}); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}
	addWatcher(t, db, 1, domain.TypeNews, "440", "c1",
		domain.Mention{ID: "g1", Type: domain.MentionRole},
		domain.Mention{ID: "u1", Type: domain.MentionMember},
	)
	addWatcher(t, db, 2, domain.TypeNews, "440", "c1")
	addWatcher(t, db, 3, domain.TypeNews, "440", "missing-channel")

	rows, err := db.Subscriptions(ctx, domain.Match{Type: domain.TypeNews, EntityID: "440"})
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %+v", rows)
	}
	if rows[0].WatcherID != 1 || rows[1].WatcherID != 1 || rows[2].WatcherID != 2 {
		t.Fatalf("rows not grouped by watcher: %+v", rows)
	}
	if rows[2].Mention.ID != "" || rows[0].Channel.WebhookToken != "tok" {
		t.Fatalf("unexpected row content: %+v", rows)
	}

	if err := db.DeleteChannel(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	rows, err = db.Subscriptions(ctx, domain.Match{Type: domain.TypeNews, EntityID: "440"})
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected no rows after purge, got %d err=%v", len(rows), err)
	}
}

func TestPriceTargets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	now := time.Now()
	for _, p := range []domain.PriceTarget{
		{ID: domain.PriceTargetID(domain.PriceSub, 1, "USD"), ItemID: 1, Type: domain.PriceSub, Currency: "USD"},
		{ID: domain.PriceTargetID(domain.PriceSub, 2, "USD"), ItemID: 2, Type: domain.PriceSub, Currency: "USD", LastChecked: now},
		{ID: domain.PriceTargetID(domain.PriceSub, 3, "EUR"), ItemID: 3, Type: domain.PriceSub, Currency: "EUR"},
	} {
		if err := db.SavePriceTarget(ctx, p); err != nil {
			t.Fatalf("SavePriceTarget: %v", err)
		}
		addWatcher(t, db, int64(p.ItemID), domain.TypePrice, p.ID, "c1")
	}

	due, err := db.DuePriceTargets(ctx, domain.PriceSub, "USD", now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("DuePriceTargets: %v", err)
	}
	if len(due) != 1 || due[0].ItemID != 1 {
		t.Fatalf("unexpected due targets %+v", due)
	}

	n, err := db.RewindPrices(ctx, domain.PriceSub, []uint32{2}, now.Add(-30*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("RewindPrices n=%d err=%v", n, err)
	}
	due, err = db.DuePriceTargets(ctx, domain.PriceSub, "USD", now.Add(-time.Minute), 10)
	if err != nil || len(due) != 2 {
		t.Fatalf("rewound target should be due: %+v err=%v", due, err)
	}

	cands, err := db.DueCandidates(ctx, domain.TypePrice, now.Add(-time.Minute))
	if err != nil || len(cands) != 3 {
		t.Fatalf("price candidates=%+v err=%v", cands, err)
	}

	if err := db.DeletePriceTarget(ctx, due[0].ID); err != nil {
		t.Fatalf("DeletePriceTarget: %v", err)
	}
	if _, err := db.PriceTarget(ctx, due[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFreePackages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	now := time.Now()
	pkgs := []domain.FreePackage{
		{ID: 1, StartTime: now.Add(-time.Minute), EndTime: now.Add(48 * time.Hour)},
		{ID: 2, StartTime: now.Add(72 * time.Hour), EndTime: now.Add(96 * time.Hour)},
		{ID: 3, StartTime: now.Add(-96 * time.Hour), EndTime: now.Add(-72 * time.Hour)},
	}
	for _, p := range pkgs {
		if err := db.UpsertFreePackage(ctx, p); err != nil {
			t.Fatalf("UpsertFreePackage: %v", err)
		}
	}
	pending, err := db.PendingFreePackages(ctx, now.Add(time.Hour), now)
	if err != nil || len(pending) != 1 || pending[0].ID != 1 {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}

	pending[0].Active = true
	if err := db.UpsertFreePackage(ctx, pending[0]); err != nil {
		t.Fatalf("UpsertFreePackage: %v", err)
	}
	// A later non-active upsert keeps the active flag.
	pending[0].Active = false
	if err := db.UpsertFreePackage(ctx, pending[0]); err != nil {
		t.Fatalf("UpsertFreePackage: %v", err)
	}
	active, err := db.ActiveFreePackages(ctx)
	if err != nil || len(active) != 1 || active[0].ID != 1 {
		t.Fatalf("active=%+v err=%v", active, err)
	}

	n, err := db.PurgeFreePackages(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeFreePackages n=%d err=%v", n, err)
	}
}

func TestKVAndMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	if _, err := db.Get(ctx, "changefeed.since"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put(ctx, "changefeed.since", "123"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put(ctx, "changefeed.since", "456"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, err := db.Get(ctx, "changefeed.since"); err != nil || v != "456" {
		t.Fatalf("Get=%q err=%v", v, err)
	}

	if err := db.UpsertApps(ctx, []domain.AppInfo{{ID: 440, Name: "Team Fortress 2", Type: "game"}}); err != nil {
		t.Fatalf("UpsertApps: %v", err)
	}
	if a, err := db.App(ctx, 440); err != nil || a.Name != "Team Fortress 2" {
		t.Fatalf("App=%+v err=%v", a, err)
	}
	if err := db.UpsertPackages(ctx, []domain.PackageInfo{{ID: 1, Name: "pkg", AppIDs: []uint32{440, 441}}}); err != nil {
		t.Fatalf("UpsertPackages: %v", err)
	}
}

func TestPurgeOrphanEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTest(t)

	addWatcher(t, db, 1, domain.TypeForum, "f1", "c1")
	if err := db.SaveEntityState(ctx, domain.EntityState{Type: domain.TypeForum, EntityID: "orphan"}); err != nil {
		t.Fatalf("SaveEntityState: %v", err)
	}
	n, err := db.PurgeOrphanEntities(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeOrphanEntities n=%d err=%v", n, err)
	}
}
