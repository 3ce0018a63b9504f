package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/upstream/steam"
	logx "steamwatch/pkg/logx"
)

// PriceConfig controls price checks.
type PriceConfig struct {
	Batch int
	// Cooldown forward-dates a changed target so the same change is not
	// announced again while the storefront settles.
	Cooldown time.Duration
	// Grace is how long a target may stay unpriced before it is dropped.
	Grace time.Duration
}

const (
	DefaultPriceBatch    = 50
	DefaultPriceCooldown = 24 * time.Hour
	DefaultPriceGrace    = 72 * time.Hour
)

// PriceSource serves storefront prices.
type PriceSource interface {
	Connectivity
	Prices(ctx context.Context, t domain.PriceType, currency string, ids []uint32) ([]steam.Price, error)
}

// PriceStore persists price targets.
type PriceStore interface {
	SavePriceTarget(ctx context.Context, p domain.PriceTarget) error
	TouchPriceTargets(ctx context.Context, ids []string, at time.Time) error
	DeletePriceTarget(ctx context.Context, id string) error
}

// Price watches storefront prices. One cycle checks the scheduler's top
// target plus every other due target of the same type and currency, in one
// upstream call.
type Price struct {
	deps  Deps
	src   PriceSource
	store PriceStore
	cfg   PriceConfig
}

var _ Variant = (*Price)(nil)

func NewPrice(d Deps, src PriceSource, store PriceStore, cfg PriceConfig) *Price {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultPriceBatch
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultPriceCooldown
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultPriceGrace
	}
	return &Price{deps: d.withDefaults(domain.TypePrice), src: src, store: store, cfg: cfg}
}

func (p *Price) Type() domain.WatcherType { return domain.TypePrice }

func (p *Price) PollOnce(ctx context.Context) (Cycle, error) {
	if !p.src.Connected() {
		return Cycle{Result: ResultDisconnected}, nil
	}
	c, ok, err := p.deps.Scheduler.NextDue(ctx, domain.TypePrice)
	if err != nil {
		return Cycle{}, err
	}
	if !ok {
		return Cycle{Result: ResultIdle}, nil
	}
	batch, err := p.deps.Scheduler.NextDueBatch(ctx, c, p.cfg.Batch)
	if err != nil {
		return Cycle{Entity: c.EntityID}, err
	}

	now := p.deps.Now()
	cyc := Cycle{Result: ResultProcessed, Entity: c.EntityID}
	ids := make([]string, len(batch))
	items := make([]uint32, len(batch))
	for i, t := range batch {
		ids[i], items[i] = t.ID, t.ItemID
	}

	head := batch[0]
	prices, err := p.src.Prices(ctx, head.Type, head.Currency, items)
	if err != nil {
		if errors.Is(err, steam.ErrNotConnected) {
			cyc.Result = ResultDisconnected
			return cyc, nil
		}
		p.deps.Log.Warn("price fetch failed",
			logx.String("type", string(head.Type)), logx.String("currency", head.Currency), logx.Int("items", len(items)), logx.Err(err))
		cyc.FetchErr = err
		if err := p.store.TouchPriceTargets(ctx, ids, now); err != nil {
			return cyc, fmt.Errorf("touch prices: %w", err)
		}
		return cyc, nil
	}

	byItem := make(map[uint32]steam.Price, len(prices))
	for _, pr := range prices {
		byItem[pr.ItemID] = pr
	}
	var unchanged []string
	for _, t := range batch {
		n, same, err := p.checkTarget(ctx, t, byItem[t.ItemID], now)
		cyc.Emitted += n
		if err != nil {
			return cyc, err
		}
		if same {
			unchanged = append(unchanged, t.ID)
		}
	}
	if err := p.store.TouchPriceTargets(ctx, unchanged, now); err != nil {
		return cyc, fmt.Errorf("touch prices: %w", err)
	}
	return cyc, nil
}

// checkTarget diffs one target against its fresh price. A zero price
// (missing from the response or not sold) counts as unavailable.
func (p *Price) checkTarget(ctx context.Context, t domain.PriceTarget, pr steam.Price, now time.Time) (emitted int, same bool, err error) {
	match := domain.Match{Type: domain.TypePrice, EntityID: t.ID}

	if !pr.Available || pr.Final == 0 {
		switch {
		case t.UnavailableSince.IsZero():
			t.UnavailableSince, t.LastChecked = now, now
			return 0, false, p.save(ctx, t)
		case now.Sub(t.UnavailableSince) < p.cfg.Grace:
			return 0, true, nil
		}
		if err := p.deps.notify(ctx, match, priceRemovedEmbed(t)); err != nil {
			return 0, false, err
		}
		p.deps.Log.Info("price target unavailable, dropping watchers",
			logx.String("target", t.ID), logx.Time("since", t.UnavailableSince))
		if err := p.store.DeletePriceTarget(ctx, t.ID); err != nil {
			return 1, false, fmt.Errorf("delete price target %s: %w", t.ID, err)
		}
		return 1, false, nil
	}

	wasUnavailable := !t.UnavailableSince.IsZero()
	t.UnavailableSince = time.Time{}
	if pr.Name != "" {
		t.Name = pr.Name
	}

	if !t.Known() {
		t.Initial, t.Final, t.Discount = pr.Initial, pr.Final, pr.Discount
		t.LastChecked, t.LastUpdate = now, now
		return 0, false, p.save(ctx, t)
	}

	if pr.Initial == t.Initial && pr.Final == t.Final && pr.Discount == t.Discount {
		if wasUnavailable {
			t.LastChecked = now
			return 0, false, p.save(ctx, t)
		}
		return 0, true, nil
	}

	if err := p.deps.notify(ctx, match, priceEmbed(t, pr, classifyPrice(t, pr))); err != nil {
		return 0, false, err
	}
	t.Initial, t.Final, t.Discount = pr.Initial, pr.Final, pr.Discount
	skew := now.Add(p.cfg.Cooldown)
	t.LastChecked, t.LastUpdate = skew, skew
	return 1, false, p.save(ctx, t)
}

func (p *Price) save(ctx context.Context, t domain.PriceTarget) error {
	if err := p.store.SavePriceTarget(ctx, t); err != nil {
		return fmt.Errorf("save price target %s: %w", t.ID, err)
	}
	return nil
}
