// Package supervisor runs the pipeline's long-lived loops (watchers, queue
// drains, maintenance) as named goroutines sharing one context. Panics are
// recovered, failed loops restart with jittered exponential backoff, and a
// failure in one loop never stops another.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "steamwatch/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log       logx.Logger
	onFailure func(name string, err error)

	firstErr atomic.Value // error
	errOnce  sync.Once
	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	loops map[string]*loopState
}

// LoopStatus is a point-in-time view of one named loop.
type LoopStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Restarts  uint64    `json:"restarts"`
	Panics    uint64    `json:"panics"`
	StartedAt time.Time `json:"started_at"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at"`
}

type loopState struct {
	running   bool
	restarts  uint64
	panics    uint64
	startedAt time.Time
	lastErr   string
	lastErrAt time.Time
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithFailureHook registers fn to be called for every loop error or panic.
// fn must not block.
func WithFailureHook(fn func(name string, err error)) Option {
	return func(s *Supervisor) { s.onFailure = fn }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		loops:  map[string]*loopState{},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first loop failure, if any.
func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

// Loops returns the status of every loop ever started, sorted by name.
func (s *Supervisor) Loops() []LoopStatus {
	s.mu.Lock()
	out := make([]LoopStatus, 0, len(s.loops))
	for name, st := range s.loops {
		out = append(out, LoopStatus{
			Name:      name,
			Running:   st.running,
			Restarts:  st.restarts,
			Panics:    st.panics,
			StartedAt: st.startedAt,
			LastErr:   st.lastErr,
			LastErrAt: st.lastErrAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) state(name string) *loopState {
	st := s.loops[name]
	if st == nil {
		st = &loopState{}
		s.loops[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.state(name)
	st.running = true
	st.startedAt = now
	if restart {
		st.restarts++
	}
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, err error, panicked bool) {
	s.mu.Lock()
	st := s.state(name)
	st.running = false
	if panicked {
		st.panics++
	}
	if err != nil {
		st.lastErr = err.Error()
		st.lastErrAt = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.errOnce.Do(func() { s.firstErr.Store(err) })
		if s.onFailure != nil {
			s.onFailure(name, err)
		}
	}
}

// runOnce calls fn, converting a panic into an error.
func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("loop panicked", logx.String("loop", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
			panicked = true
		}
	}()
	return fn(s.ctx), false
}

// Go runs fn once.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.noteStart(name, false)
		err, panicked := s.runOnce(name, fn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		s.noteStop(name, err, panicked)
	}()
}

type restartCfg struct {
	minBackoff time.Duration
	maxBackoff time.Duration
}

type RestartOption func(*restartCfg)

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// GoRestart runs fn until the supervisor is cancelled, restarting it after
// an error, a panic or an unexpected clean return.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := cfg.minBackoff
		for restart := false; ; restart = true {
			if s.ctx.Err() != nil {
				return
			}
			startedAt := s.noteStart(name, restart)
			err, panicked := s.runOnce(name, fn)
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil, panicked)
				return
			}
			if err == nil {
				err = errors.New("exited")
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err, panicked)

			// A loop that ran for a while before failing starts over at the
			// minimum backoff.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			wait := min(backoff, cfg.maxBackoff)
			if j := int64(wait) / 5; j > 0 {
				wait += time.Duration(time.Now().UnixNano() % (j + 1))
			}
			s.log.Warn("loop restarting", logx.String("loop", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	}()
}

// Stop cancels every loop and waits for them to return.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every loop has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return nil
	}
}
