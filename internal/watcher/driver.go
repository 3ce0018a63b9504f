package watcher

import (
	"context"
	"time"

	"steamwatch/internal/domain"
	"steamwatch/internal/eventbus"
	logx "steamwatch/pkg/logx"
)

// Result is the outcome class of one cycle.
type Result int

const (
	ResultIdle Result = iota
	ResultProcessed
	ResultDisconnected
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultProcessed:
		return "processed"
	case ResultDisconnected:
		return "disconnected"
	case ResultFailed:
		return "error"
	default:
		return "idle"
	}
}

// Cycle describes one PollOnce call.
type Cycle struct {
	Result  Result
	Entity  string
	Emitted int
	// FetchErr is the upstream error swallowed by the cycle, if any.
	FetchErr error
}

// Variant is one watcher type's diff policy.
type Variant interface {
	Type() domain.WatcherType
	PollOnce(ctx context.Context) (Cycle, error)
}

// DriverConfig holds the loop delays.
type DriverConfig struct {
	WorkDelay time.Duration // after a processed or skipped cycle
	IdleDelay time.Duration // when nothing was due
}

const (
	DefaultWorkDelay = 10 * time.Second
	DefaultIdleDelay = 15 * time.Minute
)

// Driver runs one variant forever. Only one cycle is in flight at a time.
type Driver struct {
	v   Variant
	cfg DriverConfig
	bus eventbus.Bus
	log logx.Logger
}

func NewDriver(v Variant, cfg DriverConfig, bus eventbus.Bus, log logx.Logger) *Driver {
	if cfg.WorkDelay <= 0 {
		cfg.WorkDelay = DefaultWorkDelay
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{v: v, cfg: cfg, bus: bus, log: log.With(logx.String("watcher", string(v.Type())))}
}

func (d *Driver) Type() domain.WatcherType { return d.v.Type() }

// Step runs one cycle and returns how long to wait before the next.
func (d *Driver) Step(ctx context.Context) (time.Duration, Cycle) {
	start := time.Now()
	c, err := d.v.PollOnce(ctx)
	if err != nil {
		c.Result = ResultFailed
		if ctx.Err() == nil {
			d.log.Error("watcher cycle aborted", logx.String("entity", c.Entity), logx.Err(err))
		}
	}
	took := time.Since(start)

	d.bus.Publish(eventbus.Event{Type: eventbus.WatcherCycle, Data: eventbus.Cycle{
		WatcherType: string(d.v.Type()),
		Result:      c.Result.String(),
		Emitted:     c.Emitted,
		Took:        took,
	}})
	if c.Result == ResultProcessed {
		d.log.Debug("watcher cycle",
			logx.String("entity", c.Entity), logx.Int("emitted", c.Emitted), logx.Duration("took", took))
	}

	if c.Result == ResultIdle {
		return d.cfg.IdleDelay, c
	}
	return d.cfg.WorkDelay, c
}

// Run loops until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("watcher started")
	for {
		delay, _ := d.Step(ctx)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
