package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"steamwatch/internal/eventbus"
	logx "steamwatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		kind    Kind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "60s", kind: KindInterval, every: time.Minute},
		{in: "2h30m", kind: KindInterval, every: 150 * time.Minute},
		{in: "00:50", kind: KindInterval, every: 50 * time.Minute},
		{in: "@every 10m", kind: KindInterval, every: 10 * time.Minute},
		{in: "every:06:00", kind: KindInterval, every: 6 * time.Hour},
		{in: "*/5 * * * *", kind: KindCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: KindCron, cron: "@hourly"},
		{in: "cron: 0 3 * * *", kind: KindCron, cron: "0 3 * * *"},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "01:75", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSchedule(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Fatalf("ParseSchedule(%q)=%+v", tt.in, got)
		}
	}
}

func TestIntervalScheduleSpreadsFirstRun(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := intervalSchedule(time.Minute, now, "snapshot")
	if jitter < 0 || jitter >= maxStartupSpread {
		t.Fatalf("jitter %v out of range", jitter)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(time.Minute + jitter)) {
		t.Fatalf("first run %v", first)
	}
	if next := sched.Next(first); next.Sub(first) != time.Minute {
		t.Fatalf("steady interval %v", next.Sub(first))
	}

	_, j := intervalSchedule(5*time.Second, now, "short")
	if j >= 5*time.Second {
		t.Fatalf("spread larger than interval: %v", j)
	}
}

func TestAddValidatesAndReplaces(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "1m", 0, noop); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := s.Add("x", "whenever", 0, noop); err == nil {
		t.Fatalf("bad schedule accepted")
	}
	if err := s.Add("purge", "1h", 0, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("purge", "0 4 * * *", 0, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Schedule != "0 4 * * *" {
		t.Fatalf("jobs %+v", jobs)
	}
	if !s.Remove("purge") || s.Remove("purge") {
		t.Fatalf("Remove should report existence once")
	}
}

func TestRunNowRecordsFailuresAndPanics(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	s := New(Config{}, bus, logx.Nop())
	var calls atomic.Int32
	_ = s.Add("ok", "1m", 0, func(context.Context) error { calls.Add(1); return nil })
	_ = s.Add("fail", "1m", 0, func(context.Context) error { return errors.New("disk full") })
	_ = s.Add("panic", "1m", 0, func(context.Context) error { panic("boom") })

	for _, name := range []string{"ok", "fail", "panic"} {
		if err := s.RunNow(context.Background(), name); err != nil {
			t.Fatalf("RunNow(%s): %v", name, err)
		}
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatalf("RunNow on unknown job succeeded")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls %d", calls.Load())
	}

	failed := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-events
		if ev.Type != eventbus.LoopFailed {
			t.Fatalf("event %+v", ev)
		}
		failed[ev.Data.(string)] = true
	}
	if !failed["job:fail"] || !failed["job:panic"] {
		t.Fatalf("failures %v", failed)
	}
	for _, j := range s.Jobs() {
		if j.Runs != 1 {
			t.Fatalf("%s runs %d", j.Name, j.Runs)
		}
		if (j.Name == "ok") != (j.Failures == 0) {
			t.Fatalf("%s failures %d", j.Name, j.Failures)
		}
	}
}

func TestRunNowAppliesTimeout(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop())
	_ = s.Add("slow", "1m", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	_ = s.RunNow(context.Background(), "slow")
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
	if j := s.Jobs()[0]; j.Failures != 1 {
		t.Fatalf("deadline should count as failure: %+v", j)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Not/AZone"}, nil, logx.Nop())
	_ = s.Add("tick", "1h", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	if j := s.Jobs()[0]; j.Next.IsZero() {
		t.Fatalf("scheduled job has no next run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}
