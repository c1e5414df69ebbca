// Package reminder turns a task and its owner's settings into delayed work
// items, one per reminder kind, under deterministic keys.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

// Runtime is the part of delay.Runtime the scheduler uses.
type Runtime interface {
	Submit(ctx context.Context, key string, fireAt time.Time, payload []byte) error
	Cancel(ctx context.Context, key string) error
}

// Payload is carried by every work item.
type Payload struct {
	TaskID int64              `json:"task_id"`
	Kind   model.ReminderKind `json:"kind"`
}

// Key is the work item key for a task's reminder: notify_<kind>_<task id>.
func Key(kind model.ReminderKind, taskID int64) string {
	return fmt.Sprintf("notify_%s_%d", kind, taskID)
}

// EncodePayload renders p as the JSON body stored with a work item.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a work item body. It rejects a missing task id and an
// unknown reminder kind, so a handler never acts on a half-read item.
func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding reminder payload: %w", err)
	}
	if p.TaskID <= 0 {
		return Payload{}, fmt.Errorf("decoding reminder payload: missing task_id")
	}
	kind, err := model.ParseReminderKind(string(p.Kind))
	if err != nil {
		return Payload{}, fmt.Errorf("decoding reminder payload: %w", err)
	}
	p.Kind = kind
	return p, nil
}

// Scheduled is one item Schedule handed to the runtime.
type Scheduled struct {
	Kind   model.ReminderKind
	Key    string
	FireAt time.Time
}

// Scheduler maps tasks onto delay runtime items. It holds no state of its
// own; the runtime is the record of what is pending.
type Scheduler struct {
	rt  Runtime
	log logx.Logger
	now func() time.Time
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

func New(rt Runtime, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{rt: rt, log: log.With(logx.Component("reminder")), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule submits every enabled reminder whose instant is still strictly in
// the future. On a runtime failure it returns what was submitted so far
// together with the error.
func (s *Scheduler) Schedule(ctx context.Context, t model.Task, ns model.NotificationSettings) ([]Scheduled, error) {
	now := s.now().UTC()
	var out []Scheduled
	for _, kind := range model.ReminderKinds {
		if !kind.Enabled(ns) {
			continue
		}
		fireAt := kind.FireAt(t.DueDate)
		if !fireAt.After(now) {
			continue
		}
		payload, err := EncodePayload(Payload{TaskID: t.ID, Kind: kind})
		if err != nil {
			return out, err
		}
		key := Key(kind, t.ID)
		if err := s.rt.Submit(ctx, key, fireAt, payload); err != nil {
			return out, fmt.Errorf("scheduling %s reminder for task %d: %w", kind.Label(), t.ID, err)
		}
		s.log.Debug("reminder queued", logx.Reminder(t.ID, key), logx.Time("fire_at", fireAt))
		out = append(out, Scheduled{Kind: kind, Key: key, FireAt: fireAt})
	}
	s.log.Debug("reminders scheduled", logx.TaskID(t.ID), logx.Int("count", len(out)))
	return out, nil
}

// Revoke cancels all three possible items of a task. Failures are logged,
// never returned; a missing item is not a failure.
func (s *Scheduler) Revoke(ctx context.Context, taskID int64) {
	for _, kind := range model.ReminderKinds {
		key := Key(kind, taskID)
		if err := s.rt.Cancel(ctx, key); err != nil {
			s.log.Warn("reminder revoke failed", logx.Reminder(taskID, key), logx.Err(err))
		}
	}
}

// Reschedule revokes every item of the task before scheduling anew.
func (s *Scheduler) Reschedule(ctx context.Context, t model.Task, ns model.NotificationSettings) ([]Scheduled, error) {
	s.Revoke(ctx, t.ID)
	return s.Schedule(ctx, t, ns)
}
