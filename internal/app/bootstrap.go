package app

import (
	"path/filepath"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/delivery"
	"steamwatch/internal/domain"
	"steamwatch/internal/gateway"
	"steamwatch/internal/observability"
	"steamwatch/internal/storage"
	"steamwatch/internal/transport/discord"
	"steamwatch/internal/transport/telegram"
	"steamwatch/internal/upstream/steam"
	"steamwatch/internal/watcher"
	logx "steamwatch/pkg/logx"
)

const (
	defaultSnapshotDir   = "./data"
	defaultSnapshotEvery = time.Minute
	defaultChangeFeed    = "1m"
	defaultPurge         = "0 4 * * *"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Alerts.Telegram.Enabled,
			MinLevel:   cfg.Alerts.Telegram.MinLevel,
			RatePerSec: cfg.Alerts.Telegram.RatePerSec,
		},
	}
}

func mapAlertConfig(cfg *config.Config) telegram.Config {
	t := cfg.Alerts.Telegram
	return telegram.Config{
		Token:    strings.TrimSpace(t.Token),
		ChatID:   t.ChatID,
		ThreadID: t.ThreadID,
		APIURL:   strings.TrimSpace(t.APIURL),
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := parseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapSteamConfig(cfg *config.Config) (steam.Config, error) {
	sc := cfg.Steam
	timeout, err := parseDurationField("steam.timeout", sc.Timeout)
	if err != nil {
		return steam.Config{}, err
	}
	cooldown, err := parseDurationField("steam.breaker_cooldown", sc.BreakerCooldown)
	if err != nil {
		return steam.Config{}, err
	}
	return steam.Config{
		APIKey:          strings.TrimSpace(sc.APIKey),
		APIBase:         strings.TrimSpace(sc.APIBase),
		StoreBase:       strings.TrimSpace(sc.StoreBase),
		BridgeURL:       strings.TrimSpace(sc.BridgeURL),
		Language:        strings.TrimSpace(sc.Language),
		Timeout:         timeout,
		RatePerSec:      sc.RatePerSec,
		Burst:           sc.Burst,
		BreakerFailures: sc.BreakerFailures,
		BreakerCooldown: cooldown,
	}, nil
}

func mapDiscordConfig(cfg *config.Config) (discord.Config, error) {
	dc := cfg.Discord
	timeout, err := parseDurationField("discord.timeout", dc.Timeout)
	if err != nil {
		return discord.Config{}, err
	}
	return discord.Config{
		APIBase:    strings.TrimSpace(dc.APIBase),
		BotToken:   strings.TrimSpace(dc.BotToken),
		Timeout:    timeout,
		RatePerSec: dc.RatePerSec,
		Burst:      dc.Burst,
	}, nil
}

func snapshotDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Queue.SnapshotDir); d != "" {
		return d
	}
	return defaultSnapshotDir
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	q := cfg.Queue.Delivery
	var (
		out delivery.Config
		err error
	)
	if out.Interval, err = parseDurationField("queue.delivery.interval", q.Interval); err != nil {
		return delivery.Config{}, err
	}
	if out.Cooldown, err = parseDurationField("queue.delivery.cooldown", q.Cooldown); err != nil {
		return delivery.Config{}, err
	}
	if out.SendTimeout, err = parseDurationField("queue.delivery.send_timeout", q.SendTimeout); err != nil {
		return delivery.Config{}, err
	}
	out.SnapshotPath = filepath.Join(snapshotDir(cfg), "delivery-queue.json")
	return out, nil
}

func mapGatewayConfig(cfg *config.Config) (gateway.Config, error) {
	q := cfg.Queue.Gateway
	interval, err := parseDurationField("queue.gateway.interval", q.Interval)
	if err != nil {
		return gateway.Config{}, err
	}
	cooldown, err := parseDurationField("queue.gateway.cooldown", q.Cooldown)
	if err != nil {
		return gateway.Config{}, err
	}
	return gateway.Config{
		Capacity:    q.Capacity,
		Interval:    interval,
		Cooldown:    cooldown,
		SnapshotDir: snapshotDir(cfg),
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (observability.Config, error) {
	h := cfg.HTTP
	out := observability.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second); err != nil {
		return observability.Config{}, err
	}
	if out.WriteTimeout, err = parseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return observability.Config{}, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("http.idle_timeout", h.IdleTimeout, time.Minute); err != nil {
		return observability.Config{}, err
	}
	return out, nil
}

func mapSnapshotEvery(cfg *config.Config) (time.Duration, error) {
	return parseDurationOrDefault("queue.snapshot_every", cfg.Queue.SnapshotEvery, defaultSnapshotEvery)
}

// mapFrequencies returns the configured run frequency of every watcher
// type that sets one.
func mapFrequencies(cfg *config.Config) map[domain.WatcherType]time.Duration {
	out := make(map[domain.WatcherType]time.Duration, len(domain.AllTypes))
	for _, t := range domain.AllTypes {
		if b, ok := cfg.Watchers.Base(string(t)); ok && b.Frequency() > 0 {
			out[t] = b.Frequency()
		}
	}
	return out
}

func watcherEnabled(cfg *config.Config, t domain.WatcherType) bool {
	b, ok := cfg.Watchers.Base(string(t))
	return ok && b.On()
}

func mapDriverConfig(cfg *config.Config) (watcher.DriverConfig, error) {
	work, err := parseDurationField("watchers.work_delay", cfg.Watchers.WorkDelay)
	if err != nil {
		return watcher.DriverConfig{}, err
	}
	idle, err := parseDurationField("watchers.idle_delay", cfg.Watchers.IdleDelay)
	if err != nil {
		return watcher.DriverConfig{}, err
	}
	return watcher.DriverConfig{WorkDelay: work, IdleDelay: idle}, nil
}

func mapPriceConfig(cfg *config.Config) (watcher.PriceConfig, error) {
	p := cfg.Watchers.Price
	cooldown, err := parseDurationField("watchers.price.cooldown", p.Cooldown)
	if err != nil {
		return watcher.PriceConfig{}, err
	}
	grace, err := parseDurationField("watchers.price.grace", p.Grace)
	if err != nil {
		return watcher.PriceConfig{}, err
	}
	return watcher.PriceConfig{Batch: p.Batch, Cooldown: cooldown, Grace: grace}, nil
}

func mapFreeConfig(cfg *config.Config) (watcher.FreeConfig, error) {
	f := cfg.Watchers.Free
	lead, err := parseDurationField("watchers.free.lead", f.Lead)
	if err != nil {
		return watcher.FreeConfig{}, err
	}
	retention, err := parseDurationField("watchers.free.retention", f.Retention)
	if err != nil {
		return watcher.FreeConfig{}, err
	}
	return watcher.FreeConfig{Lead: lead, Retention: retention, Recheck: f.Frequency()}, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
