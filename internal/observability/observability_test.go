package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"steamwatch/internal/eventbus"
	logx "steamwatch/pkg/logx"
)

func TestMetricsObserve(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, func() uint64 { return 7 })

	events := []eventbus.Event{
		{Type: eventbus.DeliverySent, Data: eventbus.Delivery{QueueLen: 4}},
		{Type: eventbus.DeliveryRequeued, Data: eventbus.Delivery{QueueLen: 5, Status: 503}},
		{Type: eventbus.WatcherCycle, Data: eventbus.Cycle{WatcherType: "news", Result: "processed", Emitted: 3, Took: time.Second}},
		{Type: eventbus.WatcherCycle, Data: eventbus.Cycle{WatcherType: "news", Result: "idle"}},
		{Type: eventbus.GatewayBatch, Data: eventbus.Batch{Apps: 10, Packages: 90, Pending: 110}},
		{Type: eventbus.ChangeFeedPolled, Data: eventbus.Batch{Apps: 12}},
		{Type: eventbus.LoopFailed, Data: "job:snapshot"},
		{Type: "unknown"},
	}
	for _, ev := range events {
		m.Observe(ev)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"sent", testutil.ToFloat64(m.Deliveries.WithLabelValues("sent")), 1},
		{"requeued", testutil.ToFloat64(m.Deliveries.WithLabelValues("requeued")), 1},
		{"queue depth", testutil.ToFloat64(m.DeliveryQueue), 5},
		{"processed cycles", testutil.ToFloat64(m.WatcherCycles.WithLabelValues("news", "processed")), 1},
		{"emitted", testutil.ToFloat64(m.WatcherEmitted.WithLabelValues("news")), 3},
		{"package ids", testutil.ToFloat64(m.GatewayIDs.WithLabelValues("packages")), 90},
		{"pending", testutil.ToFloat64(m.GatewayPending), 110},
		{"changes", testutil.ToFloat64(m.ChangesQueued), 12},
		{"loop failures", testutil.ToFloat64(m.LoopFailures.WithLabelValues("job:snapshot")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s=%v want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsConsumeStopsOnClose(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry(), nil)
	ch := make(chan eventbus.Event, 1)
	ch <- eventbus.Event{Type: eventbus.DeliveryPurged}
	close(ch)
	if err := m.Consume(context.Background(), ch); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("purged")); got != 1 {
		t.Fatalf("purged=%v", got)
	}
}

func TestHandlerRoutesAndAuth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg, nil).Observe(eventbus.Event{Type: eventbus.DeliverySent})

	var failing atomic.Bool
	s := NewServer(Config{Token: "secret", Pprof: true}, reg, Health{
		Ping: func(context.Context) error {
			if failing.Load() {
				return errors.New("database is locked")
			}
			return nil
		},
		Status: func() any { return map[string]int{"loops": 3} },
	}, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path, bearer string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		return resp
	}

	if resp := get("/healthz", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", resp.StatusCode)
	}
	if resp := get("/healthz", "wrong"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}

	resp := get("/healthz", "secret")
	var body struct {
		Status string         `json:"status"`
		Detail map[string]int `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Detail["loops"] != 3 {
		t.Fatalf("healthz %d %+v", resp.StatusCode, body)
	}

	failing.Store(true)
	if resp := get("/healthz?token=secret", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("failing ping: %d", resp.StatusCode)
	}

	resp = get("/metrics", "secret")
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(raw), `steamwatch_deliveries_total{outcome="sent"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", raw)
	}

	if resp := get("/debug/pprof/", "secret"); resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index: %d", resp.StatusCode)
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{Addr: "0.0.0.0:0"}, prometheus.NewRegistry(), Health{}, logx.Nop())
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("public bind without token accepted")
	}
	for addr, want := range map[string]bool{"127.0.0.1:1": true, "localhost:1": true, "[::1]:1": true, ":1": false, "10.0.0.1:1": false} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v", addr, got)
		}
	}
}
