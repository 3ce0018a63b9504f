package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRestartRecoversPanics(t *testing.T) {
	t.Parallel()

	var failures atomic.Int32
	s := New(context.Background(), WithFailureHook(func(string, error) { failures.Add(1) }))

	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("watcher.news", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("store unavailable")
		default:
			close(done)
			<-ctx.Done()
			return ctx.Err()
		}
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop was not restarted (runs=%d)", runs.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if failures.Load() != 2 {
		t.Fatalf("failures=%d want 2", failures.Load())
	}
	if s.Err() == nil {
		t.Fatalf("expected first error to be recorded")
	}
	loops := s.Loops()
	if len(loops) != 1 || loops[0].Restarts != 2 || loops[0].Panics != 1 || loops[0].Running {
		t.Fatalf("unexpected loop status %+v", loops)
	}
}

func TestGoCleanCancel(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("drain", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("cancellation should not be an error: %v", s.Err())
	}
}
