package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []engine.Task
}

func (r *recordingEnqueuer) Submit(_ context.Context, t engine.Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestIntervalTriggersEnqueue(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	s := New(Config{}, enq, logx.Nop())
	if err := s.AddSchedule("rescan", "1s", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule() err = %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for enq.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if enq.count() == 0 {
		t.Fatalf("no trigger enqueued")
	}
	enq.mu.Lock()
	got := enq.tasks[0]
	enq.mu.Unlock()
	if got.Name != "rescan" || got.Opt.Overlap != OverlapSkipIfRunning {
		t.Fatalf("enqueued task = %+v, want rescan with skip-if-running", got)
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, &recordingEnqueuer{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	job := func(context.Context) error { return nil }
	if err := s.AddDaily("cleanup", "02:00", time.Minute, job); err != nil {
		t.Fatalf("AddDaily() err = %v", err)
	}
	if err := s.AddSchedule("cleanup", "0 3 * * *", time.Minute, job); err != nil {
		t.Fatalf("AddSchedule() err = %v", err)
	}

	infos := s.Schedules()
	if len(infos) != 1 {
		t.Fatalf("Schedules() len = %d, want 1", len(infos))
	}
	if infos[0].Spec != "0 3 * * *" {
		t.Fatalf("Spec = %q, want %q", infos[0].Spec, "0 3 * * *")
	}
	if infos[0].Next.Hour() != 3 || infos[0].Next.Location() != time.UTC {
		t.Fatalf("Next = %v, want 03:00 UTC", infos[0].Next)
	}

	if !s.Remove("cleanup") {
		t.Fatalf("Remove() = false, want true")
	}
	if s.Remove("cleanup") {
		t.Fatalf("second Remove() = true, want false")
	}
}

func TestAddScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &recordingEnqueuer{}, logx.Nop())
	if err := s.AddSchedule("bad", "cron:61 * * * *", time.Second, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("AddSchedule() err = nil, want parse error")
	}
}

// slowEnqueuer blocks every Submit until room is closed, like a full engine
// queue that drains later.
type slowEnqueuer struct {
	recordingEnqueuer
	room      chan struct{}
	deadlines chan bool
}

func (s *slowEnqueuer) Submit(ctx context.Context, t engine.Task) error {
	_, ok := ctx.Deadline()
	select {
	case s.deadlines <- ok:
	default:
	}
	select {
	case <-s.room:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.recordingEnqueuer.Submit(ctx, t)
}

func TestTriggerWaitsForQueueRoom(t *testing.T) {
	t.Parallel()

	enq := &slowEnqueuer{room: make(chan struct{}), deadlines: make(chan bool, 1)}
	s := New(Config{}, enq, logx.Nop())
	if err := s.AddSchedule("rescan", "1s", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule() err = %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case bounded := <-enq.deadlines:
		if !bounded {
			t.Fatalf("trigger submitted without a deadline")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no trigger submitted")
	}
	if enq.count() != 0 {
		t.Fatalf("trigger recorded before the queue had room")
	}
	close(enq.room)

	deadline := time.Now().Add(2 * time.Second)
	for enq.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if enq.count() == 0 {
		t.Fatalf("blocked trigger was dropped instead of submitted")
	}
}
