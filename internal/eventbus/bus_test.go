package eventbus

import "testing"

func TestPublishFansOutAndDrops(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: DeliverySent})
	b.Publish(Event{Type: DeliveryPurged})

	if e := <-a; e.Type != DeliverySent || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped=%d want 1", got)
	}
	if e := <-c; e.Type != DeliverySent {
		t.Fatalf("unexpected event %+v", e)
	}
	if e := <-c; e.Type != DeliveryPurged {
		t.Fatalf("unexpected event %+v", e)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: WatcherCycle})
}
