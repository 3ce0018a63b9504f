package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./data/steamwatch.db", "busy_timeout": "2s"},
  "steam": {"api_key": "k", "timeout": "15s"},
  "discord": {"rate_per_sec": 1},
  "queue": {"snapshot_every": "1m", "gateway": {"capacity": 50}},
  "watchers": {
    "work_delay": "5s",
    "news": {"run_frequency_hours": 2, "count": 5},
    "forum": {"enabled": false},
    "price": {"cooldown": "12h", "grace": "48h"}
  }
}`

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/steamwatch.db
steam:
  api_key: k
discord: {}
watchers:
  ugc:
    batch: 25
    history_count: 3
  free:
    lead: 6h
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Queue.Gateway.Capacity != 50 || cfg.Steam.Timeout != "15s" {
		t.Fatalf("decoded %+v", cfg)
	}
	if !cfg.Watchers.News.On() || cfg.Watchers.Forum.On() {
		t.Fatalf("enabled flags wrong")
	}
	if got := cfg.Watchers.News.Frequency(); got != 2*time.Hour {
		t.Fatalf("news frequency %v", got)
	}
	if got := cfg.Watchers.Group.Frequency(); got != 0 {
		t.Fatalf("omitted frequency should be 0, got %v", got)
	}
	if b, ok := cfg.Watchers.Base("price"); !ok || !b.On() {
		t.Fatalf("Base(price) %+v %v", b, ok)
	}
	if _, ok := cfg.Watchers.Base("nope"); ok {
		t.Fatalf("unknown watcher resolved")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Watchers.UGC.Batch != 25 || cfg.Watchers.Free.Lead != "6h" {
		t.Fatalf("decoded %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown key", "c.json", `{"storage":{"driver":"sqlite","path":"x"},"plugins":{}}`, "plugins"},
		{"nested unknown key", "c.json", `{"storage":{"driver":"sqlite","path":"x"},"watchers":{"news":{"freq":1}}}`, "freq"},
		{"trailing data", "c.json", `{"storage":{"driver":"sqlite","path":"x"}}{}`, "trailing"},
		{"bad duration", "c.json", `{"storage":{"driver":"sqlite","path":"x"},"steam":{"timeout":"soon"}}`, "steam.timeout"},
		{"negative duration", "c.json", `{"storage":{"driver":"sqlite","path":"x"},"watchers":{"price":{"grace":"-1h"}}}`, "watchers.price.grace"},
		{"sqlite without path", "c.json", `{"storage":{"driver":"sqlite"}}`, "storage.path"},
		{"postgres without dsn", "c.json", `{"storage":{"driver":"postgres"}}`, "storage.dsn"},
		{"unknown driver", "c.json", `{"storage":{"driver":"mongo","path":"x"}}`, "unknown driver"},
		{"alerts without chat", "c.json", `{"storage":{"path":"x"},"alerts":{"telegram":{"enabled":true,"token":"t"}}}`, "chat_id"},
		{"negative frequency", "c.json", `{"storage":{"path":"x"},"watchers":{"ugc":{"run_frequency_hours":-1}}}`, "watchers.ugc"},
		{"bad yaml", "c.yml", "storage: [", "yaml"},
	}
	for _, tt := range tests {
		_, err := Decode(tt.file, []byte(tt.body))
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{" 5s ", 5 * time.Second, false},
		{"-1s", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("f", tt.raw, time.Minute)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q)=%v,%v", tt.raw, got, err)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	newCfg := *oldCfg
	newCfg.Steam.APIKey = "rotated-secret"
	newCfg.Watchers.Price.Grace = "96h"
	off := false
	newCfg.Watchers.News.Enabled = &off

	changed, attrs, watchers := SummarizeConfigChange(oldCfg, &newCfg)
	if !slices.Equal(changed, []string{"steam", "watchers"}) {
		t.Fatalf("changed %v", changed)
	}
	if !slices.Equal(watchers, []string{"news", "price"}) {
		t.Fatalf("watchers %v", watchers)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}

	same, _, _ := SummarizeConfigChange(oldCfg, oldCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported %v", same)
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "config.json", sampleJSON)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return the committed config")
	}

	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("slow subscriber should keep the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed by Unsubscribe")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return os.ErrInvalid
		}
		return nil
	})
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "config.yaml", strings.Replace(sampleYAML, "level: debug", "level: trace", 1))
	writeFile(t, dir, "config.yaml", strings.Replace(sampleYAML, "level: debug", "level: warn", 1))

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatalf("reload not committed")
	}
}
