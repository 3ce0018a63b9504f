package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"steamwatch/internal/durable"
	"steamwatch/internal/eventbus"
	"steamwatch/internal/transport"
	"steamwatch/internal/transport/discord"
	logx "steamwatch/pkg/logx"
)

// Queue is the delivery queue. Run drives it; Enqueue may be called from
// any goroutine.
type Queue struct {
	items  *durable.Queue[Item]
	poster transport.Poster
	store  ChannelPurger
	bus    eventbus.Bus
	log    logx.Logger

	mu  sync.Mutex
	cfg Config

	identMu  sync.Mutex
	ident    transport.Identity
	identSet bool

	wake chan struct{}
}

func New(cfg Config, poster transport.Poster, store ChannelPurger, bus eventbus.Bus, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	q := &Queue{
		items:  durable.New[Item](cfg.SnapshotPath, log),
		poster: poster,
		store:  store,
		bus:    bus,
		log:    log,
		wake:   make(chan struct{}, 1),
	}
	q.Apply(cfg)
	return q
}

// Load restores the queue from its snapshot.
func (q *Queue) Load() error { return q.items.Load() }

// Apply swaps pacing knobs at runtime.
func (q *Queue) Apply(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
}

func (q *Queue) config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Enqueue appends items and wakes an idle drain loop.
func (q *Queue) Enqueue(items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := q.items.Push(items...); err != nil {
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Len() int { return q.items.Len() }

func (q *Queue) Snapshot() error { return q.items.Snapshot() }

// Close writes the final snapshot.
func (q *Queue) Close() error { return q.items.Close() }

// Run drains until ctx is cancelled. An empty queue parks the loop until the
// next Enqueue.
func (q *Queue) Run(ctx context.Context) error {
	for {
		if q.items.Len() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}
		res := q.DrainOnce(ctx)
		if res.Outcome == OutcomeIdle {
			continue
		}
		t := time.NewTimer(res.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// DrainOnce attempts delivery of the head item.
func (q *Queue) DrainOnce(ctx context.Context) Result {
	cfg := q.config()
	it, ok := q.items.Pop()
	if !ok {
		return Result{Outcome: OutcomeIdle}
	}

	ident := q.identity(ctx)
	msg := it.Message
	if msg.Username == "" {
		msg.Username = ident.Name
	}
	if msg.AvatarURL == "" {
		msg.AvatarURL = ident.AvatarURL
	}
	if it.Mentions != "" {
		msg.Content = strings.TrimSpace(it.Mentions + " " + msg.Content)
	}

	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := q.poster.Post(sendCtx, transport.Target{
		ChannelID: it.ChannelID,
		WebhookID: it.WebhookID,
		Token:     it.Token,
		ThreadID:  it.ThreadID,
	}, msg)
	cancel()

	res := Result{Outcome: Classify(err), Item: it, Err: err, Delay: cfg.Interval}
	log := q.log.With(logx.String("channel", it.ChannelID), logx.String("item", it.ID))

	switch res.Outcome {
	case OutcomeSent:
		q.publish(eventbus.DeliverySent, it, 0)

	case OutcomePurged:
		log.Warn("delivery target gone, purging channel", logx.Err(err))
		if perr := q.store.DeleteChannel(ctx, it.ChannelID); perr != nil {
			log.Error("purge channel failed", logx.Err(perr))
		}
		q.publish(eventbus.DeliveryPurged, it, statusOf(err))

	case OutcomeRequeued:
		it.Attempts++
		if perr := q.items.Push(it); perr != nil {
			// Only happens during shutdown, after the final snapshot.
			log.Error("requeue failed, item lost", logx.Err(perr))
		}
		if discord.IsServerError(err) {
			res.Delay = cfg.Cooldown
		} else if ra := retryAfter(err); ra > res.Delay {
			res.Delay = ra
		}
		log.Warn("delivery failed, requeued",
			logx.Err(err), logx.Int("attempts", it.Attempts), logx.Duration("next", res.Delay))
		q.publish(eventbus.DeliveryRequeued, it, statusOf(err))
	}
	return res
}

// Classify maps a post error to an outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case discord.IsPermanent(err):
		return OutcomePurged
	default:
		return OutcomeRequeued
	}
}

// identity resolves the bot identity once. A failed lookup is retried on
// the next drain.
func (q *Queue) identity(ctx context.Context) transport.Identity {
	q.identMu.Lock()
	defer q.identMu.Unlock()
	if q.identSet {
		return q.ident
	}
	id, err := q.poster.Identity(ctx)
	if err != nil {
		q.log.Warn("resolve bot identity failed", logx.Err(err))
		return transport.Identity{}
	}
	q.ident, q.identSet = id, true
	return id
}

func (q *Queue) publish(typ string, it Item, status int) {
	q.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.Delivery{
		ChannelID: it.ChannelID,
		QueueLen:  q.items.Len(),
		Status:    status,
	}})
}

func statusOf(err error) int {
	var apiErr *discord.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func retryAfter(err error) time.Duration {
	var apiErr *discord.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
