package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "auratask/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, t)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	start := time.Now()
	if qt.firstStart.IsZero() {
		qt.firstStart = start
	}
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	qt.attempt++

	if qt.attempt == 1 {
		s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		s.publish("task.started", TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})
	}

	err := s.runAttempt(ctx, qt)
	var nr noRetryError
	switch {
	case err == nil:
	case errors.As(err, &nr):
		err = nr.err
	case ctx.Err() != nil:
		err = fmt.Errorf("%w: %v", ErrStopped, err)
	case qt.attempt < 1+qt.opt.RetryMax:
		// The worker is released while the task waits for its next attempt.
		s.park(ctx, stopCh, qt, err)
		return
	}
	s.finish(qt, queueDelay, err)
}

// park requeues qt after RetryDelay. A stop while parked finishes the task
// with ErrStopped.
func (s *Service) park(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, cause error) {
	s.mu.Lock()
	q := s.q
	s.mu.Unlock()

	delay := qt.opt.RetryDelay
	s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", qt.attempt+1), logx.Duration("delay", delay), logx.Err(cause))

	atomic.AddInt32(&s.parked, 1)
	s.parkWG.Add(1)
	go func() {
		defer s.parkWG.Done()
		defer atomic.AddInt32(&s.parked, -1)

		stopped := func() {
			s.finish(qt, 0, fmt.Errorf("%w: %v", ErrStopped, cause))
		}
		tmr := time.NewTimer(delay)
		defer tmr.Stop()
		select {
		case <-ctx.Done():
			stopped()
			return
		case <-stopCh:
			stopped()
			return
		case <-tmr.C:
		}

		qt.enqueuedAt = time.Now()
		select {
		case q <- qt:
		case <-ctx.Done():
			stopped()
		case <-stopCh:
			stopped()
		}
	}()
}

// finish records the outcome of the last attempt and calls Done.
func (s *Service) finish(qt queuedTask, queueDelay time.Duration, err error) {
	if qt.state != nil {
		defer qt.state.release()
	}
	started := qt.firstStart
	if started.IsZero() {
		started = qt.enqueuedAt
	}
	dur := time.Since(started)
	attempts := qt.attempt
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: started, Duration: dur, QueueDelay: queueDelay, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish("task.failed", TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: started, QueueDelay: queueDelay, Duration: dur, Attempts: attempts, Error: item.Error})
	} else {
		s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish("task.finished", TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: started, QueueDelay: queueDelay, Duration: dur, Attempts: attempts})
	}
	s.record(item)

	if qt.task.Done != nil {
		s.callDone(qt, err)
	}
}

// runAttempt converts panics into errors so one bad task cannot kill a worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

// callDone runs the completion hook on a context detached from worker
// shutdown so final bookkeeping is not cut short.
func (s *Service) callDone(qt queuedTask, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task.done.panic", logx.String("task", qt.task.Name), logx.Any("panic", r))
		}
	}()
	qt.task.Done(ctx, err)
}
