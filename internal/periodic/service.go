package periodic

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"steamwatch/internal/eventbus"
	logx "steamwatch/pkg/logx"
)

// Config controls the job runner.
type Config struct {
	Timezone string // IANA name; empty means local time
}

// Job is one maintenance task.
type Job func(ctx context.Context) error

type jobDef struct {
	name     string
	sched    Schedule
	timeout  time.Duration
	job      Job
	entryID  cron.EntryID
	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string
	Schedule string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	Skipped  uint64
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*jobDef

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*jobDef{},
	}
}

// Add registers or replaces the job called name. Jobs added before Start
// are scheduled when it runs.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	if job == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	sc, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, sched: sc, timeout: timeout, job: job}
	if s.c != nil {
		if err := s.scheduleLocked(d); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	s.jobs[name] = d
	return nil
}

// Remove unschedules the job. It reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.jobs, name)
	return true
}

// Start begins triggering. Job contexts derive from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loc = s.location()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Error("job register failed", logx.String("job", d.name), logx.String("schedule", d.sched.String()), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("periodic jobs started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.jobs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("periodic jobs still running at shutdown")
	}
	s.log.Info("periodic jobs stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs the job synchronously outside its schedule, unless a run is
// already in flight.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: not registered", name)
	}
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		return nil
	}
	defer d.running.Store(false)
	s.run(ctx, d)
	return nil
}

// Jobs lists registered jobs by name.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, d := range s.jobs {
		info := JobInfo{
			Name:     d.name,
			Schedule: d.sched.String(),
			Runs:     d.runs.Load(),
			Failures: d.failures.Load(),
			Skipped:  d.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) scheduleLocked(d *jobDef) error {
	fire := cron.FuncJob(func() { s.fire(d) })
	if d.sched.Kind == KindInterval {
		sched, jitter := intervalSchedule(d.sched.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, fire)
		s.log.Debug("job registered", logx.String("job", d.name), logx.String("schedule", d.sched.String()), logx.Duration("spread", jitter))
		return nil
	}
	id, err := s.c.AddJob(d.sched.Cron, fire)
	if err != nil {
		return err
	}
	d.entryID = id
	s.log.Debug("job registered", logx.String("job", d.name), logx.String("schedule", d.sched.Cron))
	return nil
}

// fire is the cron callback. Overlapping triggers are skipped.
func (s *Service) fire(d *jobDef) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("job still running, trigger skipped", logx.String("job", d.name))
		return
	}
	s.wg.Add(1)
	defer func() {
		d.running.Store(false)
		s.wg.Done()
	}()
	s.run(ctx, d)
}

// run executes one job with its timeout, recovering panics.
func (s *Service) run(ctx context.Context, d *jobDef) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	d.runs.Add(1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", logx.String("job", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		return d.job(ctx)
	}()

	took := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		d.failures.Add(1)
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", took), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.LoopFailed, Data: "job:" + d.name})
		return
	}
	s.log.Debug("job done", logx.String("job", d.name), logx.Duration("took", took))
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local time", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
