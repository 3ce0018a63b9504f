package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "72h"); empty or zero means the component default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Alerts   AlertsConfig   `json:"alerts,omitempty"`
	HTTP     HTTPConfig     `json:"http,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Steam    SteamConfig    `json:"steam"`
	Discord  DiscordConfig  `json:"discord"`
	Queue    QueueConfig    `json:"queue,omitempty"`
	Jobs     JobsConfig     `json:"jobs,omitempty"`
	Watchers WatchersConfig `json:"watchers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlertsConfig routes warn+ log lines to an operator chat.
type AlertsConfig struct {
	Telegram TelegramAlerts `json:"telegram"`
}

type TelegramAlerts struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the operator endpoints (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/steamwatch.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // postgres; do not log
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type SteamConfig struct {
	APIKey    string `json:"api_key"` // do not log
	APIBase   string `json:"api_base,omitempty"`
	StoreBase string `json:"store_base,omitempty"`
	// BridgeURL serves product info, change numbers and forum listings.
	// Leaving it empty disables the forum watcher and the batch gateway.
	BridgeURL string `json:"bridge_url,omitempty"`
	Language  string `json:"language,omitempty"`
	Timeout   string `json:"timeout,omitempty"`

	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	Burst           int     `json:"burst,omitempty"`
	BreakerFailures uint32  `json:"breaker_failures,omitempty"`
	BreakerCooldown string  `json:"breaker_cooldown,omitempty"`
}

type DiscordConfig struct {
	APIBase    string  `json:"api_base,omitempty"`
	BotToken   string  `json:"bot_token,omitempty"` // do not log
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// QueueConfig controls the delivery queue and the batch gateway. Both
// snapshot to SnapshotDir every SnapshotEvery and on shutdown.
type QueueConfig struct {
	SnapshotDir   string        `json:"snapshot_dir,omitempty"`
	SnapshotEvery string        `json:"snapshot_every,omitempty"`
	Delivery      DeliveryQueue `json:"delivery,omitempty"`
	Gateway       GatewayQueue  `json:"gateway,omitempty"`
}

type DeliveryQueue struct {
	Interval    string `json:"interval,omitempty"`
	Cooldown    string `json:"cooldown,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type GatewayQueue struct {
	Capacity int    `json:"capacity,omitempty"`
	Interval string `json:"interval,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
}

// JobsConfig schedules maintenance jobs. Schedules accept cron expressions
// ("0 4 * * *"), descriptors ("@hourly") and intervals ("10m", "every:06:00").
type JobsConfig struct {
	Timezone        string `json:"timezone,omitempty"`
	ChangeFeed      string `json:"change_feed,omitempty"`
	ChangeFeedLimit int    `json:"change_feed_limit,omitempty"`
	Purge           string `json:"purge,omitempty"`
}

type WatchersConfig struct {
	WorkDelay string `json:"work_delay,omitempty"`
	IdleDelay string `json:"idle_delay,omitempty"`

	News     FeedWatcher    `json:"news,omitempty"`
	Group    FeedWatcher    `json:"group,omitempty"`
	Curator  FeedWatcher    `json:"curator,omitempty"`
	Forum    ListingWatcher `json:"forum,omitempty"`
	Workshop ListingWatcher `json:"workshop,omitempty"`
	UGC      UGCWatcher     `json:"ugc,omitempty"`
	Price    PriceWatcher   `json:"price,omitempty"`
	Free     FreeWatcher    `json:"free,omitempty"`
}

// WatcherBase is shared by every watcher section. Enabled is a pointer so
// an omitted key keeps the watcher on.
type WatcherBase struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	RunFrequencyHours float64 `json:"run_frequency_hours,omitempty"`
}

// On reports whether the watcher should run.
func (b WatcherBase) On() bool { return b.Enabled == nil || *b.Enabled }

type FeedWatcher struct {
	WatcherBase
	Count int `json:"count,omitempty"`
}

type ListingWatcher struct {
	WatcherBase
	MaxPages int `json:"max_pages,omitempty"`
	PerPage  int `json:"per_page,omitempty"`
}

type UGCWatcher struct {
	WatcherBase
	Batch        int `json:"batch,omitempty"`
	HistoryCount int `json:"history_count,omitempty"`
}

type PriceWatcher struct {
	WatcherBase
	Batch    int    `json:"batch,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
	Grace    string `json:"grace,omitempty"`
}

type FreeWatcher struct {
	WatcherBase
	Lead      string `json:"lead,omitempty"`
	Retention string `json:"retention,omitempty"`
}
