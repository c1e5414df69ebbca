package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("boom")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if err == nil {
		t.Fatalf("Wait() err = nil, want first published error")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background(), WithCancelOnError(true))
	sup.Go("panicky", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err == nil {
		t.Fatalf("Wait() err = nil, want panic error")
	}
	if sup.Context().Err() == nil {
		t.Fatalf("context not canceled after panic with cancel-on-error")
	}
}

func TestStopCancelsLongRunning(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(context.Background())
	sup.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() err = %v, want nil", err)
	}
	if c := sup.Counters(); c.Active != 0 || c.Started != 1 {
		t.Fatalf("Counters = %+v, want active 0 started 1", c)
	}
}
