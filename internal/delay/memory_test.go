package delay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

func startEngine(t *testing.T, retryMax int) *engine.Service {
	t.Helper()
	eng := engine.New(engine.Config{
		Enabled:        true,
		Workers:        1,
		QueueSize:      16,
		RetryMax:       retryMax,
		RetryDelay:     10 * time.Millisecond,
		DefaultTimeout: time.Second,
	}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Stop(context.Background()) })
	return eng
}

func startMemory(t *testing.T, exec Executor, h Handler) *Memory {
	t.Helper()
	m := NewMemory(exec, h, Options{}, logx.Nop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

func waitItem(t *testing.T, ch <-chan Item) Item {
	t.Helper()
	select {
	case it := <-ch:
		return it
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for item")
		return Item{}
	}
}

func TestMemoryFiresAtTime(t *testing.T) {
	t.Parallel()
	fired := make(chan Item, 4)
	m := startMemory(t, startEngine(t, 0), Handler{Run: func(_ context.Context, it Item) error {
		fired <- it
		return nil
	}})

	fireAt := time.Now().Add(30 * time.Millisecond)
	if err := m.Submit(context.Background(), "k1", fireAt, []byte("hello")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if at, ok, _ := m.Pending(context.Background(), "k1"); !ok || !at.Equal(fireAt.UTC()) {
		t.Fatalf("Pending() = %v, %v; want %v, true", at, ok, fireAt)
	}

	it := waitItem(t, fired)
	if it.Key != "k1" || string(it.Payload) != "hello" {
		t.Fatalf("item = %+v", it)
	}
	if time.Now().Before(fireAt) {
		t.Fatalf("fired early")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}

func TestMemorySubmitReplaces(t *testing.T) {
	t.Parallel()
	fired := make(chan Item, 4)
	m := startMemory(t, startEngine(t, 0), Handler{Run: func(_ context.Context, it Item) error {
		fired <- it
		return nil
	}})
	ctx := context.Background()

	if err := m.Submit(ctx, "k", time.Now().Add(time.Hour), []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(ctx, "k", time.Now().Add(-time.Minute), []byte("new")); err != nil {
		t.Fatal(err)
	}
	if it := waitItem(t, fired); string(it.Payload) != "new" {
		t.Fatalf("payload = %q, want new", it.Payload)
	}
	select {
	case it := <-fired:
		t.Fatalf("unexpected second fire: %+v", it)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryCancel(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	m := startMemory(t, startEngine(t, 0), Handler{Run: func(context.Context, Item) error {
		calls.Add(1)
		return nil
	}})
	ctx := context.Background()

	if err := m.Submit(ctx, "k", time.Now().Add(50*time.Millisecond), nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Cancel(ctx, "k"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := m.Cancel(ctx, "missing"); err != nil {
		t.Fatalf("Cancel(missing) error = %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestMemoryFailureHookAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var mu sync.Mutex
	var failed []error
	done := make(chan struct{})
	boom := errors.New("boom")

	m := startMemory(t, startEngine(t, 2), Handler{
		Run: func(context.Context, Item) error {
			calls.Add(1)
			return boom
		},
		OnFailure: func(_ context.Context, _ Item, err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
			close(done)
		},
	})

	if err := m.Submit(context.Background(), "k", time.Now(), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure not called")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 || !errors.Is(failed[0], boom) {
		t.Fatalf("failed = %v", failed)
	}
}

func TestMemoryNotStarted(t *testing.T) {
	t.Parallel()
	m := NewMemory(nil, Handler{}, Options{}, logx.Nop())
	err := m.Submit(context.Background(), "k", time.Now(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrUnavailable", err)
	}
}

func TestMemoryStaleCallbackIgnoredAfterResubmit(t *testing.T) {
	t.Parallel()
	fired := make(chan Item, 4)
	m := startMemory(t, startEngine(t, 0), Handler{Run: func(_ context.Context, it Item) error {
		fired <- it
		return nil
	}})
	ctx := context.Background()

	if err := m.Submit(ctx, "notify_1hr_7", time.Now().Add(time.Hour), []byte("old")); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	old := m.timers["notify_1hr_7"]
	m.mu.Unlock()

	// Revoke then schedule again, as a due date change does.
	if err := m.Cancel(ctx, "notify_1hr_7"); err != nil {
		t.Fatal(err)
	}
	newAt := time.Now().Add(48 * time.Hour)
	if err := m.Submit(ctx, "notify_1hr_7", newAt, []byte("new")); err != nil {
		t.Fatal(err)
	}

	// The old timer's callback was already running when it was stopped.
	m.fire("notify_1hr_7", old)

	select {
	case it := <-fired:
		t.Fatalf("fired %q at %v, want nothing before %v", it.Payload, time.Now(), newAt)
	case <-time.After(100 * time.Millisecond):
	}
	if at, ok, _ := m.Pending(ctx, "notify_1hr_7"); !ok || !at.Equal(newAt.UTC()) {
		t.Fatalf("Pending() = %v, %v; want %v, true", at, ok, newAt.UTC())
	}
}

type refusingExecutor struct{ err error }

func (r refusingExecutor) Submit(context.Context, engine.Task) error { return r.err }

func TestMemoryUndispatchedItemCallsOnFailure(t *testing.T) {
	t.Parallel()
	failed := make(chan error, 1)
	m := startMemory(t, refusingExecutor{err: engine.ErrDisabled}, Handler{
		Run: func(context.Context, Item) error { return nil },
		OnFailure: func(_ context.Context, it Item, err error) {
			if it.Key == "notify_at_due_3" {
				failed <- err
			}
		},
	})

	if err := m.Submit(context.Background(), "notify_at_due_3", time.Now(), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-failed:
		if !errors.Is(err, engine.ErrDisabled) {
			t.Fatalf("OnFailure err = %v, want %v", err, engine.ErrDisabled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure not called")
	}
}
