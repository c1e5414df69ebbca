// Package taskops is the task lifecycle: every mutation that must keep
// reminders, scores and live updates in step with the stored task goes
// through here.
package taskops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auratask/internal/eventbus"
	"auratask/internal/model"
	"auratask/internal/reminder"
	"auratask/internal/storage"
	"auratask/internal/urgency"
	logx "auratask/pkg/logx"
)

// MaxSubtasks is the per-task subtask limit.
const MaxSubtasks = 10

// transitionTries bounds status writes that lose a race with another
// status change.
const transitionTries = 3

var (
	ErrSubtaskLimit = fmt.Errorf("maximum %d subtasks per task", MaxSubtasks)
	ErrInvalid      = errors.New("invalid task input")
	ErrConflict     = errors.New("task status changed concurrently")
)

type Store interface {
	storage.TaskStore
	storage.SubtaskStore
	storage.SettingsStore
}

// Scheduler is satisfied by *reminder.Scheduler.
type Scheduler interface {
	Schedule(ctx context.Context, t model.Task, ns model.NotificationSettings) ([]reminder.Scheduled, error)
	Reschedule(ctx context.Context, t model.Task, ns model.NotificationSettings) ([]reminder.Scheduled, error)
	Revoke(ctx context.Context, taskID int64)
}

// Rescorer is satisfied by *rescan.Job.
type Rescorer interface {
	RefreshTask(ctx context.Context, id int64) (float64, bool, error)
}

type Service struct {
	store  Store
	sched  Scheduler
	scores Rescorer
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store Store, sched Scheduler, scores Rescorer, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, sched: sched, scores: scores, bus: bus, log: log.With(logx.Component("taskops")), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result is a mutated task plus any notification warnings. Warnings never
// fail the mutation itself.
type Result struct {
	Task      model.Task
	Scheduled []reminder.Scheduled
	Warnings  []string
}

type CreateInput struct {
	UserID      int64
	Title       string
	Description string
	Priority    string
	DueDate     time.Time
}

// UpdateInput holds optional changes; nil fields are left alone.
type UpdateInput struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *time.Time
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Result, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Result{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if in.DueDate.IsZero() {
		return Result{}, fmt.Errorf("%w: due date is required", ErrInvalid)
	}

	t := model.Task{
		UserID:      in.UserID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    model.ParsePriority(in.Priority),
		Status:      model.StatusPending,
		DueDate:     in.DueDate.UTC(),
	}
	t.UrgencyScore = urgency.Score(t.DueDate, t.Priority, s.now())
	if err := s.store.CreateTask(ctx, &t); err != nil {
		return Result{}, err
	}

	res := Result{Task: t}
	s.schedule(ctx, &res, false)
	eventbus.PublishTo(s.bus, t.UserID, eventbus.TaskCreated, t)
	s.log.Info("task created", logx.TaskID(t.ID), logx.UserID(t.UserID), logx.Int("reminders", len(res.Scheduled)))
	return res, nil
}

// schedule (re)submits reminders for res.Task and records failures as warnings.
// A task that turned terminal while reminders were being submitted has them
// revoked again.
func (s *Service) schedule(ctx context.Context, res *Result, replace bool) {
	ns, err := s.store.GetOrCreateSettings(ctx, res.Task.UserID)
	if err != nil {
		res.Warnings = append(res.Warnings, "notifications not scheduled: "+err.Error())
		s.log.Warn("loading notification settings failed", logx.TaskID(res.Task.ID), logx.Err(err))
		return
	}
	var scheduled []reminder.Scheduled
	if replace {
		scheduled, err = s.sched.Reschedule(ctx, res.Task, ns)
	} else {
		scheduled, err = s.sched.Schedule(ctx, res.Task, ns)
	}
	res.Scheduled = scheduled
	if err != nil {
		res.Warnings = append(res.Warnings, "notifications not scheduled: "+err.Error())
		s.log.Warn("scheduling reminders failed", logx.TaskID(res.Task.ID), logx.Err(err))
	}
	if !replace || len(scheduled) == 0 {
		return
	}
	if cur, err := s.store.GetTask(ctx, res.Task.ID); err == nil && cur.Status.Terminal() {
		s.sched.Revoke(ctx, cur.ID)
		res.Task.Status = cur.Status
		res.Scheduled = nil
	}
}

// rescore refreshes the stored score of t and copies it back.
func (s *Service) rescore(ctx context.Context, t *model.Task) {
	if s.scores == nil || t.Status.Terminal() {
		return
	}
	score, _, err := s.scores.RefreshTask(ctx, t.ID)
	if err != nil {
		s.log.Warn("score refresh failed", logx.TaskID(t.ID), logx.Err(err))
		return
	}
	t.UrgencyScore = score
}

func (s *Service) Get(ctx context.Context, id int64) (model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns the user's tasks ordered for the dashboard.
func (s *Service) List(ctx context.Context, userID int64, includeTerminal bool) ([]model.Task, error) {
	return s.store.ListTasks(ctx, userID, includeTerminal)
}

// Update applies in. Only the edited columns are written. A due date change
// on a live task reschedules its reminders; due date or priority changes
// rescore it.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Result, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var patch storage.TaskPatch
	dueChanged := false
	rescore := false
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return Result{}, fmt.Errorf("%w: title is required", ErrInvalid)
		}
		patch.Title = &title
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		patch.Description = &desc
	}
	if in.Priority != nil {
		if p := model.ParsePriority(*in.Priority); p != t.Priority {
			patch.Priority = &p
			rescore = true
		}
	}
	if in.DueDate != nil && !in.DueDate.IsZero() && !in.DueDate.UTC().Equal(t.DueDate) {
		due := in.DueDate.UTC()
		patch.DueDate = &due
		dueChanged = true
		rescore = true
	}
	if !patch.Empty() {
		if err := s.store.PatchTask(ctx, id, patch); err != nil {
			return Result{}, err
		}
	}

	// Reload so concurrent status or snooze changes are reflected.
	if t, err = s.store.GetTask(ctx, id); err != nil {
		return Result{}, err
	}
	if rescore {
		s.rescore(ctx, &t)
	}
	res := Result{Task: t}
	if dueChanged && !t.Status.Terminal() {
		s.schedule(ctx, &res, true)
	}
	eventbus.PublishTo(s.bus, t.UserID, eventbus.TaskUpdated, res.Task)
	return res, nil
}

// SetStatus moves the task to status. Entering a terminal status revokes
// reminders once; leaving one reschedules them.
func (s *Service) SetStatus(ctx context.Context, id int64, status model.Status) (Result, error) {
	if _, ok := model.ParseStatus(string(status)); !ok {
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res, _, err := s.transition(ctx, t, status, nil)
	return res, err
}

// transition writes status guarded by the status it last read, rereading
// after a lost race. allow, when set, vetoes moving from the current status.
// The bool reports whether this call changed the status.
func (s *Service) transition(ctx context.Context, t model.Task, status model.Status, allow func(model.Status) bool) (Result, bool, error) {
	var prev model.Status
	moved := false
	for i := 0; i < transitionTries; i++ {
		if t.Status == status || (allow != nil && !allow(t.Status)) {
			return Result{Task: t}, false, nil
		}
		prev = t.Status
		ok, err := s.store.TransitionStatus(ctx, t.ID, prev, status)
		if err != nil {
			return Result{}, false, err
		}
		if ok {
			moved = true
			break
		}
		if t, err = s.store.GetTask(ctx, t.ID); err != nil {
			return Result{}, false, err
		}
	}
	if !moved {
		return Result{}, false, fmt.Errorf("task %d: %w", t.ID, ErrConflict)
	}
	t.Status = status

	res := Result{Task: t}
	switch {
	case !prev.Terminal() && status.Terminal():
		s.sched.Revoke(ctx, t.ID)
		s.log.Info("task closed", logx.TaskID(t.ID), logx.String("status", string(status)))
	case prev.Terminal() && !status.Terminal():
		s.rescore(ctx, &res.Task)
		s.schedule(ctx, &res, true)
	}
	eventbus.PublishTo(s.bus, t.UserID, eventbus.TaskUpdated, res.Task)
	return res, true, nil
}

func (s *Service) Complete(ctx context.Context, id int64) (Result, error) {
	return s.SetStatus(ctx, id, model.StatusCompleted)
}

// Snooze suppresses delivery for minutes from now. Scheduled items stay.
func (s *Service) Snooze(ctx context.Context, id int64, minutes int) (Result, error) {
	if minutes <= 0 {
		return Result{}, fmt.Errorf("%w: snooze minutes must be positive", ErrInvalid)
	}
	until := s.now().UTC().Add(time.Duration(minutes) * time.Minute)
	if err := s.store.SetSnooze(ctx, id, &until); err != nil {
		return Result{}, err
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return Result{}, err
	}
	eventbus.PublishTo(s.bus, t.UserID, eventbus.TaskUpdated, t)
	return Result{Task: t}, nil
}

// DeletedEvent is the payload of the task_deleted live update.
type DeletedEvent struct {
	TaskID int64 `json:"task_id"`
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	s.sched.Revoke(ctx, id)
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	eventbus.PublishTo(s.bus, t.UserID, eventbus.TaskDeleted, DeletedEvent{TaskID: id})
	s.log.Info("task deleted", logx.TaskID(id))
	return nil
}

func (s *Service) AddSubtask(ctx context.Context, taskID int64, title string) (model.Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Subtask{}, fmt.Errorf("%w: subtask title is required", ErrInvalid)
	}
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return model.Subtask{}, err
	}
	subs, err := s.store.ListSubtasks(ctx, taskID)
	if err != nil {
		return model.Subtask{}, err
	}
	if len(subs) >= MaxSubtasks {
		return model.Subtask{}, ErrSubtaskLimit
	}
	st := model.Subtask{TaskID: taskID, Title: title}
	if err := s.store.CreateSubtask(ctx, &st); err != nil {
		return model.Subtask{}, err
	}
	return st, nil
}

// ToggleSubtask flips a subtask. When that leaves every subtask completed,
// a live parent is completed too and its reminders are revoked; the bool
// reports that.
func (s *Service) ToggleSubtask(ctx context.Context, subtaskID int64) (model.Subtask, bool, error) {
	st, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		return model.Subtask{}, false, err
	}
	st.Completed = !st.Completed
	if err := s.store.SetSubtaskCompleted(ctx, st.ID, st.Completed); err != nil {
		return model.Subtask{}, false, err
	}
	if !st.Completed {
		return st, false, nil
	}

	subs, err := s.store.ListSubtasks(ctx, st.TaskID)
	if err != nil {
		return st, false, err
	}
	for _, x := range subs {
		if !x.Completed {
			return st, false, nil
		}
	}
	parent, err := s.store.GetTask(ctx, st.TaskID)
	if err != nil {
		return st, false, err
	}
	live := func(cur model.Status) bool { return !cur.Terminal() }
	_, completed, err := s.transition(ctx, parent, model.StatusCompleted, live)
	if err != nil {
		return st, false, err
	}
	return st, completed, nil
}

func (s *Service) Settings(ctx context.Context, userID int64) (model.NotificationSettings, error) {
	return s.store.GetOrCreateSettings(ctx, userID)
}

func (s *Service) SaveSettings(ctx context.Context, ns model.NotificationSettings) error {
	return s.store.SaveSettings(ctx, ns)
}
