// Package rescan keeps stored urgency scores current as time passes and
// trims old notification log rows.
package rescan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"auratask/internal/eventbus"
	"auratask/internal/model"
	"auratask/internal/urgency"
	logx "auratask/pkg/logx"
)

// Epsilon is the smallest score change worth a write.
const Epsilon = 0.01

// DefaultRetention is how long notification log rows are kept.
const DefaultRetention = 30 * 24 * time.Hour

type Store interface {
	GetTask(ctx context.Context, id int64) (model.Task, error)
	ListActiveTasks(ctx context.Context) ([]model.Task, error)
	UpdateScoreIfChanged(ctx context.Context, id int64, score, epsilon float64) (bool, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Result struct {
	Total   int
	Updated int
	Took    time.Duration
}

// ScoreUpdate is one entry of the urgency_update live event.
type ScoreUpdate struct {
	TaskID       int64   `json:"task_id"`
	UrgencyScore float64 `json:"urgency_score"`
}

type Job struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

type Option func(*Job)

func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

func New(store Store, bus eventbus.Bus, log logx.Logger, opts ...Option) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Job{store: store, bus: bus, log: log.With(logx.Component("rescan")), now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Run rescores every non-terminal task against one shared instant. A task
// that turns terminal mid-scan is left alone by the store's guarded update.
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	now := j.now().UTC()

	tasks, err := j.store.ListActiveTasks(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing active tasks: %w", err)
	}

	res := Result{Total: len(tasks)}
	byUser := map[int64][]ScoreUpdate{}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		score := urgency.Score(t.DueDate, t.Priority, now)
		changed, err := j.store.UpdateScoreIfChanged(ctx, t.ID, score, Epsilon)
		if err != nil {
			j.log.Warn("score update failed", logx.TaskID(t.ID), logx.Err(err))
			continue
		}
		if changed {
			res.Updated++
			byUser[t.UserID] = append(byUser[t.UserID], ScoreUpdate{TaskID: t.ID, UrgencyScore: score})
		}
	}

	users := make([]int64, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })
	for _, u := range users {
		eventbus.PublishTo(j.bus, u, eventbus.UrgencyUpdate, byUser[u])
	}

	res.Took = time.Since(start)
	j.log.Info("urgency rescan finished", logx.Int("total", res.Total), logx.Int("updated", res.Updated), logx.Duration("took", res.Took))
	return res, nil
}

// RefreshTask rescores a single task. Terminal tasks keep their score.
func (j *Job) RefreshTask(ctx context.Context, id int64) (float64, bool, error) {
	t, err := j.store.GetTask(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if t.Status.Terminal() {
		return t.UrgencyScore, false, nil
	}
	score := urgency.Score(t.DueDate, t.Priority, j.now())
	changed, err := j.store.UpdateScoreIfChanged(ctx, id, score, Epsilon)
	if err != nil {
		return t.UrgencyScore, false, err
	}
	if changed {
		eventbus.PublishTo(j.bus, t.UserID, eventbus.UrgencyUpdate, []ScoreUpdate{{TaskID: id, UrgencyScore: score}})
		return score, true, nil
	}
	return t.UrgencyScore, false, nil
}

// CleanupLogs deletes log rows older than retention.
func (j *Job) CleanupLogs(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := j.store.DeleteLogsBefore(ctx, j.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleaning notification logs: %w", err)
	}
	j.log.Info("notification logs cleaned", logx.Int64("deleted", n), logx.Duration("retention", retention))
	return n, nil
}
