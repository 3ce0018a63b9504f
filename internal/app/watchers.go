package app

import (
	"fmt"
	"strings"

	"steamwatch/internal/config"
	"steamwatch/internal/domain"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/storage"
	"steamwatch/internal/upstream/steam"
	"steamwatch/internal/watcher"
	logx "steamwatch/pkg/logx"
)

// buildWatchers returns one driver per enabled watcher type, in
// domain.AllTypes order.
func buildWatchers(cfg *config.Config, d watcher.Deps, src *steam.Client, store *storage.DB, bus eventbus.Bus, log logx.Logger) ([]*watcher.Driver, error) {
	dcfg, err := mapDriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	price, err := mapPriceConfig(cfg)
	if err != nil {
		return nil, err
	}
	free, err := mapFreeConfig(cfg)
	if err != nil {
		return nil, err
	}

	w := cfg.Watchers
	out := make([]*watcher.Driver, 0, len(domain.AllTypes))
	for _, t := range domain.AllTypes {
		if !watcherEnabled(cfg, t) {
			log.Info("watcher disabled", logx.String("watcher", string(t)))
			continue
		}
		if t == domain.TypeForum && strings.TrimSpace(cfg.Steam.BridgeURL) == "" {
			log.Warn("forum watcher needs steam.bridge_url, not starting", logx.String("watcher", string(t)))
			continue
		}
		var v watcher.Variant
		switch t {
		case domain.TypeNews:
			v = watcher.NewNews(d, src, store, watcher.FeedConfig{Count: w.News.Count})
		case domain.TypeGroupNews:
			v = watcher.NewGroupNews(d, src, store, watcher.FeedConfig{Count: w.Group.Count})
		case domain.TypeCurator:
			v = watcher.NewCurator(d, src, store, watcher.FeedConfig{Count: w.Curator.Count})
		case domain.TypeForum:
			v = watcher.NewForum(d, src, store, watcher.ListingConfig{MaxPages: w.Forum.MaxPages})
		case domain.TypeWorkshop:
			v = watcher.NewWorkshop(d, src, store, watcher.ListingConfig{MaxPages: w.Workshop.MaxPages, PerPage: w.Workshop.PerPage})
		case domain.TypeUGC:
			v = watcher.NewUGC(d, src, store, watcher.UGCConfig{Batch: w.UGC.Batch, HistoryCount: w.UGC.HistoryCount})
		case domain.TypePrice:
			v = watcher.NewPrice(d, src, store, price)
		case domain.TypeFree:
			v = watcher.NewFree(d, src, store, free)
		default:
			return nil, fmt.Errorf("watcher %s: no implementation", t)
		}
		out = append(out, watcher.NewDriver(v, dcfg, bus, log))
	}
	return out, nil
}
