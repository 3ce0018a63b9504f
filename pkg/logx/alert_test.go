package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	got := formatAlert([]byte(`{"level":"warn","time":"x","message":"delivery failed","comp":"delivery","channel":"42"}` + "\n"))
	want := "[WARN] delivery failed\n- channel=42\n- comp=delivery"
	if got != want {
		t.Fatalf("formatAlert:\n got %q\nwant %q", got, want)
	}

	if got := formatAlert([]byte("  not json  ")); got != "not json" {
		t.Fatalf("raw line: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"0123456789abcdef", 12, "012345678..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestServiceForwardsWarningsOnly(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level:  "debug",
		File:   FileConfig{Enabled: true, Path: t.TempDir() + "/steamwatch.log"},
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, sender)
	defer svc.Close()

	log.Info("routine")
	log.Warn("watcher cycle failed", String("type", "news"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("expected 1 alert, got %d: %v", len(sender.msgs), sender.msgs)
	}
	if !strings.HasPrefix(sender.msgs[0], "[WARN] watcher cycle failed") {
		t.Fatalf("unexpected alert %q", sender.msgs[0])
	}
}
