package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

// ErrUnavailable is returned when the runtime cannot accept or cancel work.
var ErrUnavailable = errors.New("delay runtime unavailable")

// Item is one fired work item.
type Item struct {
	Key     string
	FireAt  time.Time
	Payload []byte
}

// Handler receives fired items.
//
// Run is retried by the engine while it returns retryable errors. OnFailure
// is called once when the final attempt failed; it is not called when the
// engine stopped mid-retry, because the item is then redelivered (Redis) or
// dropped with the process (memory). The memory runtime also calls
// OnFailure when a fired item could not be handed to the engine.
type Handler struct {
	Run       func(ctx context.Context, it Item) error
	OnFailure func(ctx context.Context, it Item, err error)
}

// Executor is the part of the task engine the runtimes need.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

type Runtime interface {
	// Submit registers payload under key to fire at fireAt, replacing any
	// pending item with the same key. A past fireAt fires immediately.
	Submit(ctx context.Context, key string, fireAt time.Time, payload []byte) error
	// Cancel removes a pending item. Missing keys are not an error.
	Cancel(ctx context.Context, key string) error
	// Pending reports the fire time of a pending item.
	Pending(ctx context.Context, key string) (time.Time, bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// Options shared by both runtimes.
type Options struct {
	// TaskTimeout bounds a single handler attempt; 0 uses the engine default.
	TaskTimeout time.Duration
}

// dispatch hands it to the engine. ack runs after the final attempt with the
// final error; a stopped engine passes an error wrapping engine.ErrStopped.
func dispatch(ctx context.Context, exec Executor, h Handler, opt Options, log logx.Logger, it Item, beforeRun func(context.Context), ack func(context.Context, error)) error {
	if h.Run == nil {
		return errors.New("delay handler Run is nil")
	}
	t := engine.Task{
		Name:    "delay:" + it.Key,
		Timeout: opt.TaskTimeout,
		Run: func(c context.Context) error {
			if beforeRun != nil {
				beforeRun(c)
			}
			return h.Run(c, it)
		},
		Done: func(c context.Context, err error) {
			switch {
			case err == nil:
			case errors.Is(err, engine.ErrStopped):
				log.Info("delayed item interrupted by shutdown", logx.ReminderKey(it.Key), logx.Err(err))
			default:
				log.Warn("delayed item failed", logx.ReminderKey(it.Key), logx.Err(err))
				if h.OnFailure != nil {
					h.OnFailure(c, it, err)
				}
			}
			if ack != nil {
				ack(c, err)
			}
		},
	}
	if err := exec.Submit(ctx, t); err != nil {
		return fmt.Errorf("dispatching %s: %w", it.Key, err)
	}
	return nil
}
