// Package delivery runs when a reminder fires: it re-reads the task, sends
// through every enabled channel and records one log row per attempt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auratask/internal/channel"
	"auratask/internal/delay"
	"auratask/internal/eventbus"
	"auratask/internal/model"
	"auratask/internal/reminder"
	"auratask/internal/storage"
	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

const (
	StatusSent       = "sent"
	StatusNoChannels = "no_channels"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// Skip reasons.
const (
	SkipTaskNotFound   = "task_not_found"
	SkipTaskCompleted  = "task_completed"
	SkipTaskSnoozed    = "task_snoozed"
	SkipNoSettings     = "no_notification_settings"
	SkipPayloadInvalid = "payload_invalid"
)

// ErrAllChannelsFailed is returned when every attempted channel failed. The
// FAILED rows are already written when it is returned.
var ErrAllChannelsFailed = errors.New("all channels failed")

type Store interface {
	GetTask(ctx context.Context, id int64) (model.Task, error)
	GetSettings(ctx context.Context, userID int64) (model.NotificationSettings, error)
	AppendLog(ctx context.Context, l *model.NotificationLog) error
}

// Sender is satisfied by *channel.Registry.
type Sender interface {
	Send(ctx context.Context, ch model.Channel, dest, subject, body string) error
}

type Outcome struct {
	Status string
	Reason string
	TaskID int64
	Kind   model.ReminderKind
	Sent   []model.Channel
	Failed []model.Channel
	Errors []string
}

// SentEvent is the payload of the notification_sent live update.
type SentEvent struct {
	TaskID   int64              `json:"task_id"`
	Kind     model.ReminderKind `json:"kind"`
	Channels []model.Channel    `json:"channels"`
}

type Handler struct {
	store  Store
	sender Sender
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func New(store Store, sender Sender, bus eventbus.Bus, log logx.Logger, opts ...Option) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{store: store, sender: sender, bus: bus, log: log.With(logx.Component("delivery")), now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// DelayHandler wires h into a delay runtime.
func (h *Handler) DelayHandler() delay.Handler {
	return delay.Handler{Run: h.Run, OnFailure: h.OnFailure}
}

// Run is the delay runtime entry point.
func (h *Handler) Run(ctx context.Context, it delay.Item) error {
	p, err := reminder.DecodePayload(it.Payload)
	if err != nil {
		h.log.Error("reminder skipped", logx.ReminderKey(it.Key), logx.String("reason", SkipPayloadInvalid), logx.Err(err))
		return nil
	}
	_, err = h.Handle(ctx, p)
	return err
}

func skipped(p reminder.Payload, reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason, TaskID: p.TaskID, Kind: p.Kind}
}

// Handle delivers one fired reminder. Skips are outcomes, not errors. A
// returned error asks for a retry unless it is wrapped with engine.NoRetry.
func (h *Handler) Handle(ctx context.Context, p reminder.Payload) (Outcome, error) {
	now := h.now().UTC()
	log := h.log.With(logx.TaskID(p.TaskID), logx.String("kind", p.Kind.Label()))

	t, err := h.store.GetTask(ctx, p.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("reminder skipped", logx.String("reason", SkipTaskNotFound))
		return skipped(p, SkipTaskNotFound), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("loading task %d: %w", p.TaskID, err)
	}
	if t.Status.Terminal() {
		log.Info("reminder skipped", logx.String("reason", SkipTaskCompleted))
		return skipped(p, SkipTaskCompleted), nil
	}
	// The item is consumed: a reminder firing inside the snooze window is
	// not moved past it.
	if t.Snoozed(now) {
		log.Info("reminder skipped", logx.String("reason", SkipTaskSnoozed), logx.Time("snoozed_until", *t.SnoozedUntil))
		return skipped(p, SkipTaskSnoozed), nil
	}

	ns, err := h.store.GetSettings(ctx, t.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("reminder skipped", logx.String("reason", SkipNoSettings))
		return skipped(p, SkipNoSettings), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("loading settings for user %d: %w", t.UserID, err)
	}

	msg := BuildMessage(t, p.Kind)
	scheduledFor := p.Kind.FireAt(t.DueDate)
	out := Outcome{TaskID: t.ID, Kind: p.Kind}
	transient := false

	for _, ch := range model.Channels {
		dest, ok := ns.Destination(ch)
		if !ok {
			continue
		}
		row := model.NotificationLog{
			TaskID:       t.ID,
			Channel:      ch,
			ReminderKind: p.Kind,
			ScheduledFor: scheduledFor,
		}
		if err := h.sender.Send(ctx, ch, dest, msg.Subject, msg.Body); err != nil {
			row.Status = model.LogFailed
			row.ErrorMessage = err.Error()
			out.Failed = append(out.Failed, ch)
			out.Errors = append(out.Errors, err.Error())
			if !channel.IsPermanent(err) {
				transient = true
			}
			log.Warn("channel send failed", logx.Channel(ch), logx.Bool("permanent", channel.IsPermanent(err)), logx.Err(err))
		} else {
			sentAt := h.now().UTC()
			row.Status = model.LogSent
			row.SentAt = &sentAt
			out.Sent = append(out.Sent, ch)
		}
		if err := h.store.AppendLog(ctx, &row); err != nil {
			log.Error("notification log write failed", logx.Channel(ch), logx.Err(err))
		}
	}

	switch {
	case len(out.Sent) > 0:
		out.Status = StatusSent
		eventbus.PublishTo(h.bus, t.UserID, eventbus.NotificationSent, SentEvent{TaskID: t.ID, Kind: p.Kind, Channels: out.Sent})
		log.Info("reminder sent", logx.Any("channels", out.Sent), logx.Int("failed", len(out.Failed)))
		return out, nil
	case len(out.Failed) == 0:
		out.Status = StatusNoChannels
		log.Info("reminder had no channels")
		return out, nil
	}

	out.Status = StatusFailed
	err = fmt.Errorf("%w: %s", ErrAllChannelsFailed, strings.Join(out.Errors, "; "))
	if !transient {
		return out, engine.NoRetry(err)
	}
	return out, err
}

// OnFailure records retry exhaustion. When the last attempt already reached
// the channels its FAILED rows exist; otherwise one FAILED row is written
// per configured channel so the reminder is never dropped silently.
func (h *Handler) OnFailure(ctx context.Context, it delay.Item, cause error) {
	if errors.Is(cause, ErrAllChannelsFailed) {
		h.log.Error("reminder failed on every channel", logx.ReminderKey(it.Key), logx.Err(cause))
		return
	}
	p, err := reminder.DecodePayload(it.Payload)
	if err != nil {
		h.log.Error("reminder failed with undecodable payload", logx.ReminderKey(it.Key), logx.Err(cause))
		return
	}
	log := h.log.With(logx.TaskID(p.TaskID), logx.String("kind", p.Kind.Label()))
	log.Error("reminder retries exhausted", logx.Err(cause))

	t, err := h.store.GetTask(ctx, p.TaskID)
	if err != nil {
		log.Error("cannot record exhausted reminder", logx.Err(err))
		return
	}
	ns, err := h.store.GetSettings(ctx, t.UserID)
	if err != nil {
		log.Error("cannot record exhausted reminder", logx.Err(err))
		return
	}
	for _, ch := range model.Channels {
		if _, ok := ns.Destination(ch); !ok {
			continue
		}
		row := model.NotificationLog{
			TaskID:       t.ID,
			Channel:      ch,
			Status:       model.LogFailed,
			ReminderKind: p.Kind,
			ScheduledFor: p.Kind.FireAt(t.DueDate),
			ErrorMessage: "retries exhausted: " + cause.Error(),
		}
		if err := h.store.AppendLog(ctx, &row); err != nil {
			log.Error("notification log write failed", logx.Channel(ch), logx.Err(err))
		}
	}
}
