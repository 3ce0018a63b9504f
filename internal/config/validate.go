package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validate checks values that do not need any component to interpret:
// duration syntax, storage driver, required secrets of enabled sinks.
func (c *Config) Validate() error {
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("http.read_timeout", c.HTTP.ReadTimeout)
	dur("http.write_timeout", c.HTTP.WriteTimeout)
	dur("http.idle_timeout", c.HTTP.IdleTimeout)
	dur("storage.busy_timeout", c.Storage.BusyTimeout)
	dur("steam.timeout", c.Steam.Timeout)
	dur("steam.breaker_cooldown", c.Steam.BreakerCooldown)
	dur("discord.timeout", c.Discord.Timeout)
	dur("queue.snapshot_every", c.Queue.SnapshotEvery)
	dur("queue.delivery.interval", c.Queue.Delivery.Interval)
	dur("queue.delivery.cooldown", c.Queue.Delivery.Cooldown)
	dur("queue.delivery.send_timeout", c.Queue.Delivery.SendTimeout)
	dur("queue.gateway.interval", c.Queue.Gateway.Interval)
	dur("queue.gateway.cooldown", c.Queue.Gateway.Cooldown)
	dur("watchers.work_delay", c.Watchers.WorkDelay)
	dur("watchers.idle_delay", c.Watchers.IdleDelay)
	dur("watchers.price.cooldown", c.Watchers.Price.Cooldown)
	dur("watchers.price.grace", c.Watchers.Price.Grace)
	dur("watchers.free.lead", c.Watchers.Free.Lead)
	dur("watchers.free.retention", c.Watchers.Free.Retention)

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if t := c.Alerts.Telegram; t.Enabled && (strings.TrimSpace(t.Token) == "" || t.ChatID == 0) {
		errs = append(errs, errors.New("alerts.telegram: token and chat_id are required when enabled"))
	}
	if c.Queue.Gateway.Capacity < 0 {
		errs = append(errs, errors.New("queue.gateway.capacity must be >= 0"))
	}

	for name, b := range c.Watchers.bases() {
		if b.RunFrequencyHours < 0 || math.IsNaN(b.RunFrequencyHours) || math.IsInf(b.RunFrequencyHours, 0) {
			errs = append(errs, fmt.Errorf("watchers.%s.run_frequency_hours must be a positive number", name))
		}
	}
	return errors.Join(errs...)
}

// bases maps each watcher section key to its shared settings.
func (w WatchersConfig) bases() map[string]WatcherBase {
	return map[string]WatcherBase{
		"news":     w.News.WatcherBase,
		"group":    w.Group.WatcherBase,
		"curator":  w.Curator.WatcherBase,
		"forum":    w.Forum.WatcherBase,
		"workshop": w.Workshop.WatcherBase,
		"ugc":      w.UGC.WatcherBase,
		"price":    w.Price.WatcherBase,
		"free":     w.Free.WatcherBase,
	}
}

// Base returns the shared settings of the watcher keyed by name, the same
// key the section uses in the file.
func (w WatchersConfig) Base(name string) (WatcherBase, bool) {
	b, ok := w.bases()[name]
	return b, ok
}

// Frequency converts RunFrequencyHours; zero means the scheduler default.
func (b WatcherBase) Frequency() time.Duration {
	if b.RunFrequencyHours <= 0 {
		return 0
	}
	return time.Duration(b.RunFrequencyHours * float64(time.Hour))
}
