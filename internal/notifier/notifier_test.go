package notifier

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"steamwatch/internal/delivery"
	"steamwatch/internal/domain"
	"steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

type fakeSubs struct {
	rows []domain.SubscriptionRow
	err  error
	got  domain.Match
}

func (f *fakeSubs) Subscriptions(_ context.Context, m domain.Match) ([]domain.SubscriptionRow, error) {
	f.got = m
	return f.rows, f.err
}

type fakeQueue struct{ items []delivery.Item }

func (f *fakeQueue) Enqueue(items ...delivery.Item) error {
	f.items = append(f.items, items...)
	return nil
}

func newTestNotifier(subs Subscriptions, q Enqueuer) *Notifier {
	n := New(subs, q, logx.Nop())
	seq := 0
	n.newID = func() string { seq++; return "id-" + strconv.Itoa(seq) }
	return n
}

func TestOneItemPerWatcher(t *testing.T) {
	t.Parallel()

	ch := domain.Channel{ID: "c1", GuildID: "g1", WebhookID: "w1", WebhookToken: "tok"}
	rows := []domain.SubscriptionRow{
		{WatcherID: 7, Channel: ch, ThreadID: "th", Mention: domain.Mention{ID: "g1", Type: domain.MentionRole}},
		{WatcherID: 7, Channel: ch, ThreadID: "th", Mention: domain.Mention{ID: "r1", Type: domain.MentionRole}},
		{WatcherID: 7, Channel: ch, ThreadID: "th", Mention: domain.Mention{ID: "r2", Type: domain.MentionRole}},
		{WatcherID: 7, Channel: ch, ThreadID: "th", Mention: domain.Mention{ID: "u1", Type: domain.MentionMember}},
		{WatcherID: 7, Channel: ch, ThreadID: "th", Mention: domain.Mention{ID: "u2", Type: domain.MentionMember}},
		{WatcherID: 9, Channel: ch},
	}
	subs := &fakeSubs{rows: rows}
	q := &fakeQueue{}
	n := newTestNotifier(subs, q)

	match := domain.Match{Type: domain.TypeNews, EntityID: "440"}
	got, err := n.Notify(context.Background(), match, transport.Embed{Title: "Patch"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got != 2 || len(q.items) != 2 {
		t.Fatalf("enqueued %d items (%d) want 2", got, len(q.items))
	}
	if subs.got != match {
		t.Fatalf("match=%+v", subs.got)
	}

	first := q.items[0]
	if first.WatcherID != 7 || first.Mentions != "@everyone <@&r1> <@&r2> <@u1> <@u2>" {
		t.Fatalf("first item=%+v", first)
	}
	if first.ThreadID != "th" || first.Token != "tok" || first.WebhookID != "w1" || len(first.Message.Embeds) != 1 {
		t.Fatalf("first item target/body=%+v", first)
	}
	if q.items[1].WatcherID != 9 || q.items[1].Mentions != "" || q.items[1].ID == first.ID {
		t.Fatalf("second item=%+v", q.items[1])
	}
}

func TestNotifyNoEmbedsOrWatchers(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	n := newTestNotifier(&fakeSubs{}, q)
	if got, err := n.Notify(context.Background(), domain.Match{Type: domain.TypeFree}); err != nil || got != 0 {
		t.Fatalf("got=%d err=%v", got, err)
	}
	if got, err := n.Notify(context.Background(), domain.Match{Type: domain.TypeFree}, transport.Embed{}); err != nil || got != 0 {
		t.Fatalf("got=%d err=%v", got, err)
	}
	if len(q.items) != 0 {
		t.Fatalf("unexpected items %+v", q.items)
	}

	boom := errors.New("db down")
	n = newTestNotifier(&fakeSubs{err: boom}, q)
	if _, err := n.Notify(context.Background(), domain.Match{}, transport.Embed{}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRenderMentions(t *testing.T) {
	t.Parallel()

	got := RenderMentions("g", []domain.Mention{
		{ID: "g", Type: domain.MentionRole},
		{ID: "1", Type: domain.MentionRole},
		{ID: "2", Type: domain.MentionMember},
		{},
	})
	if got != "@everyone <@&1> <@2>" {
		t.Fatalf("RenderMentions=%q", got)
	}
	if RenderMentions("g", nil) != "" {
		t.Fatalf("empty mentions should render empty")
	}
}
