package config

import (
	"reflect"
	"sort"
	"strings"

	logx "steamwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the watcher sections that changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// alerts (never log token)
	oa, na := oldCfg.Alerts.Telegram, newCfg.Alerts.Telegram
	if oa != na {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.telegram.enabled", na.Enabled),
			logx.Bool("alerts.telegram.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("alerts.telegram.token_changed", oa.Token != na.Token),
			logx.String("alerts.telegram.min_level", na.MinLevel),
			logx.Int("alerts.telegram.rate_per_sec", na.RatePerSec),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.allow_insecure", newCfg.HTTP.AllowInsecure),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Steam != newCfg.Steam {
		changed = append(changed, "steam")
		attrs = append(attrs,
			logx.Bool("steam.api_key_set", strings.TrimSpace(newCfg.Steam.APIKey) != ""),
			logx.Bool("steam.bridge_set", strings.TrimSpace(newCfg.Steam.BridgeURL) != ""),
			logx.String("steam.language", newCfg.Steam.Language),
			logx.String("steam.timeout", newCfg.Steam.Timeout),
		)
	}

	if oldCfg.Discord != newCfg.Discord {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.String("discord.api_base", strings.TrimSpace(newCfg.Discord.APIBase)),
			logx.Bool("discord.bot_token_set", strings.TrimSpace(newCfg.Discord.BotToken) != ""),
			logx.String("discord.timeout", newCfg.Discord.Timeout),
		)
	}

	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		q := newCfg.Queue
		attrs = append(attrs,
			logx.String("queue.snapshot_every", q.SnapshotEvery),
			logx.String("queue.delivery.interval", q.Delivery.Interval),
			logx.String("queue.delivery.cooldown", q.Delivery.Cooldown),
			logx.Int("queue.gateway.capacity", q.Gateway.Capacity),
		)
	}

	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.String("jobs.timezone", newCfg.Jobs.Timezone),
			logx.String("jobs.change_feed", newCfg.Jobs.ChangeFeed),
			logx.String("jobs.purge", newCfg.Jobs.Purge),
		)
	}

	watchers := diffWatchers(oldCfg.Watchers, newCfg.Watchers)
	if len(watchers) > 0 {
		changed = append(changed, "watchers")
		attrs = append(attrs, logx.Strings("watchers.changed", watchers))
	}

	sort.Strings(changed)
	return changed, attrs, watchers
}

// diffWatchers lists the watcher sections that differ. Shared delays are
// reported as "*".
func diffWatchers(o, n WatchersConfig) []string {
	var out []string
	if o.WorkDelay != n.WorkDelay || o.IdleDelay != n.IdleDelay {
		out = append(out, "*")
	}
	sections := []struct {
		name string
		o, n any
	}{
		{"news", o.News, n.News},
		{"group", o.Group, n.Group},
		{"curator", o.Curator, n.Curator},
		{"forum", o.Forum, n.Forum},
		{"workshop", o.Workshop, n.Workshop},
		{"ugc", o.UGC, n.UGC},
		{"price", o.Price, n.Price},
		{"free", o.Free, n.Free},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.o, s.n) {
			out = append(out, s.name)
		}
	}
	sort.Strings(out)
	return out
}
