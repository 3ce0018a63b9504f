package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"steamwatch/internal/domain"
)

// DefaultFrequency is used for types without a configured run frequency.
const DefaultFrequency = 4 * time.Hour

// neverChecked is how long a never-checked entity is assumed to have waited.
const neverChecked = 365 * 24 * time.Hour

// Store is the read side the scheduler needs.
type Store interface {
	DueCandidates(ctx context.Context, t domain.WatcherType, dueBefore time.Time) ([]domain.Candidate, error)
	WatcherLoad(ctx context.Context, t domain.WatcherType) (watchers, entities int, err error)
	DuePriceTargets(ctx context.Context, t domain.PriceType, currency string, dueBefore time.Time, limit int) ([]domain.PriceTarget, error)
	PriceTarget(ctx context.Context, id string) (domain.PriceTarget, error)
}

// Scheduler is safe for concurrent use; each watcher loop calls it for its
// own type.
type Scheduler struct {
	store Store
	now   func() time.Time

	mu    sync.RWMutex
	freqs map[domain.WatcherType]time.Duration
}

type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, freqs map[domain.WatcherType]time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{store: store, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.SetFrequencies(freqs)
	return s
}

// SetFrequencies replaces the per-type run frequencies.
func (s *Scheduler) SetFrequencies(freqs map[domain.WatcherType]time.Duration) {
	m := make(map[domain.WatcherType]time.Duration, len(freqs))
	for k, v := range freqs {
		if v > 0 {
			m[k] = v
		}
	}
	s.mu.Lock()
	s.freqs = m
	s.mu.Unlock()
}

// Frequency returns the run frequency of t.
func (s *Scheduler) Frequency(t domain.WatcherType) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.freqs[t]; ok {
		return f
	}
	return DefaultFrequency
}

// AverageLoad is the mean number of active watchers per watched entity of
// type t, or zero when nothing is watched.
func (s *Scheduler) AverageLoad(ctx context.Context, t domain.WatcherType) (float64, error) {
	watchers, entities, err := s.store.WatcherLoad(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("scheduler: watcher load %s: %w", t, err)
	}
	if entities == 0 {
		return 0, nil
	}
	return float64(watchers) / float64(entities), nil
}

// NextDue returns the highest-priority due entity of type t. ok is false
// when nothing is due. Store errors abort the caller's cycle.
func (s *Scheduler) NextDue(ctx context.Context, t domain.WatcherType) (c domain.Candidate, ok bool, err error) {
	top, err := s.NextDueN(ctx, t, 1)
	if err != nil || len(top) == 0 {
		return domain.Candidate{}, false, err
	}
	return top[0], true, nil
}

// NextDueN returns up to n due entities of type t, highest priority first.
// Equal scores keep store order.
func (s *Scheduler) NextDueN(ctx context.Context, t domain.WatcherType, n int) ([]domain.Candidate, error) {
	if n <= 0 {
		return nil, nil
	}
	now := s.now()
	freq := s.Frequency(t)

	cands, err := s.store.DueCandidates(ctx, t, now.Add(-freq))
	if err != nil {
		return nil, fmt.Errorf("scheduler: due %s: %w", t, err)
	}
	if len(cands) == 0 {
		return nil, nil
	}
	avg, err := s.AverageLoad(ctx, t)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredCandidate, 0, len(cands))
	for _, c := range cands {
		if c.WatcherCount <= 0 {
			continue
		}
		scored = append(scored, scoredCandidate{c, Priority(c.WatcherCount, c.LastChecked, now, freq, avg)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > n {
		scored = scored[:n]
	}
	out := make([]domain.Candidate, len(scored))
	for i, sc := range scored {
		out[i] = sc.Candidate
	}
	return out, nil
}

type scoredCandidate struct {
	domain.Candidate
	score float64
}

// NextDueBatch widens a price candidate to every due target sharing its
// price type and currency, up to limit. The candidate itself is always
// first.
func (s *Scheduler) NextDueBatch(ctx context.Context, c domain.Candidate, limit int) ([]domain.PriceTarget, error) {
	ptype, _, currency, ok := domain.ParsePriceTargetID(c.EntityID)
	if !ok {
		return nil, fmt.Errorf("scheduler: malformed price target id %q", c.EntityID)
	}
	if limit <= 0 {
		limit = 1
	}
	due := s.now().Add(-s.Frequency(domain.TypePrice))
	rows, err := s.store.DuePriceTargets(ctx, ptype, currency, due, limit+1)
	if err != nil {
		return nil, fmt.Errorf("scheduler: due price batch: %w", err)
	}

	out := make([]domain.PriceTarget, 0, limit)
	var head *domain.PriceTarget
	for i := range rows {
		if rows[i].ID == c.EntityID {
			head = &rows[i]
			continue
		}
		out = append(out, rows[i])
	}
	if head == nil {
		// Ordered past the limit; load it directly.
		p, err := s.store.PriceTarget(ctx, c.EntityID)
		if err != nil {
			return nil, fmt.Errorf("scheduler: price target %s: %w", c.EntityID, err)
		}
		head = &p
	}
	out = append([]domain.PriceTarget{*head}, out...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Priority scores one candidate. It is non-decreasing in wait time and
// strictly increasing in watcher count.
func Priority(watchers int, lastChecked, now time.Time, freq time.Duration, avgLoad float64) float64 {
	if lastChecked.IsZero() {
		lastChecked = now.Add(-neverChecked)
	}
	if freq <= 0 {
		freq = DefaultFrequency
	}
	waited := now.Sub(lastChecked)
	if waited < 0 {
		waited = 0
	}
	periods := math.Floor(waited.Hours() / freq.Hours())
	return float64(watchers) + periods*avgLoad
}
