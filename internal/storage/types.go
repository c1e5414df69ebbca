package storage

import (
	"context"
	"errors"
	"time"

	"auratask/internal/model"
)

var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (":memory:" for tests)
//   - "postgres": PostgreSQL reachable at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// TaskPatch holds the editable task fields; nil fields are left alone.
// Status, snooze and score have their own narrow writes.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *model.Priority
	DueDate     *time.Time
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.DueDate == nil
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id int64) (model.Task, error)
	// PatchTask writes only the fields set in p.
	PatchTask(ctx context.Context, id int64, p TaskPatch) error
	// TransitionStatus moves a task from one status to another only while it
	// is still in from. It reports whether the row changed.
	TransitionStatus(ctx context.Context, id int64, from, to model.Status) (bool, error)
	// SetSnooze sets snoozed_until; nil clears it.
	SetSnooze(ctx context.Context, id int64, until *time.Time) error
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, userID int64, includeTerminal bool) ([]model.Task, error)
	ListActiveTasks(ctx context.Context) ([]model.Task, error)
	// UpdateScoreIfChanged writes score only for a non-terminal task whose
	// stored score differs by more than epsilon. It reports whether a row changed.
	UpdateScoreIfChanged(ctx context.Context, id int64, score, epsilon float64) (bool, error)
}

type SubtaskStore interface {
	CreateSubtask(ctx context.Context, st *model.Subtask) error
	GetSubtask(ctx context.Context, id int64) (model.Subtask, error)
	ListSubtasks(ctx context.Context, taskID int64) ([]model.Subtask, error)
	SetSubtaskCompleted(ctx context.Context, id int64, completed bool) error
}

type SettingsStore interface {
	GetSettings(ctx context.Context, userID int64) (model.NotificationSettings, error)
	GetOrCreateSettings(ctx context.Context, userID int64) (model.NotificationSettings, error)
	SaveSettings(ctx context.Context, s model.NotificationSettings) error
}

type LogStore interface {
	AppendLog(ctx context.Context, l *model.NotificationLog) error
	ListLogs(ctx context.Context, taskID int64) ([]model.NotificationLog, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store is the full persistence API.
type Store interface {
	TaskStore
	SubtaskStore
	SettingsStore
	LogStore
	Close() error
}
