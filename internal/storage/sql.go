package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

// SQLStore implements Store over sqlx.
type SQLStore struct {
	db      *sqlx.DB
	log     logx.Logger
	dialect dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Ping checks that the database answers.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *SQLStore) q(query string) string { return s.db.Rebind(query) }

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// ---- tasks ----

const taskColumns = `id, user_id, title, description, priority, status, due_at, snoozed_until, urgency_score, created_at, updated_at`

type taskRow struct {
	ID           int64         `db:"id"`
	UserID       int64         `db:"user_id"`
	Title        string        `db:"title"`
	Description  string        `db:"description"`
	Priority     string        `db:"priority"`
	Status       string        `db:"status"`
	DueAt        int64         `db:"due_at"`
	SnoozedUntil sql.NullInt64 `db:"snoozed_until"`
	UrgencyScore float64       `db:"urgency_score"`
	CreatedAt    int64         `db:"created_at"`
	UpdatedAt    int64         `db:"updated_at"`
}

func (r taskRow) toModel() model.Task {
	return model.Task{
		ID:           r.ID,
		UserID:       r.UserID,
		Title:        r.Title,
		Description:  r.Description,
		Priority:     model.ParsePriority(r.Priority),
		Status:       model.Status(r.Status),
		DueDate:      fromMillis(r.DueAt),
		SnoozedUntil: timePtr(r.SnoozedUntil),
		UrgencyScore: r.UrgencyScore,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
}

func (s *SQLStore) CreateTask(ctx context.Context, t *model.Task) error {
	now := s.clock().UTC()
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	t.Priority = model.ParsePriority(string(t.Priority))
	t.DueDate = t.DueDate.UTC()

	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO tasks (user_id, title, description, priority, status, due_at, snoozed_until, urgency_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		t.UserID, t.Title, t.Description, string(t.Priority), string(t.Status),
		toMillis(t.DueDate), nullMillis(t.SnoozedUntil), t.UrgencyScore, toMillis(now), toMillis(now),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	t.CreatedAt = fromMillis(toMillis(now))
	t.UpdatedAt = t.CreatedAt
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id int64) (model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if err != nil {
		return model.Task{}, notFound(err, fmt.Sprintf("task %d", id))
	}
	return row.toModel(), nil
}

// PatchTask updates the columns set in p and nothing else, so concurrent
// status or snooze writes are not overwritten.
func (s *SQLStore) PatchTask(ctx context.Context, id int64, p TaskPatch) error {
	var (
		sets []string
		args []any
	)
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(model.ParsePriority(string(*p.Priority))))
	}
	if p.DueDate != nil {
		sets = append(sets, "due_at = ?")
		args = append(args, toMillis(*p.DueDate))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(s.clock()), id)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("updating task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) TransitionStatus(ctx context.Context, id int64, from, to model.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(to), toMillis(s.clock()), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("updating status of task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating status of task %d: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLStore) SetSnooze(ctx context.Context, id int64, until *time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET snoozed_until = ?, updated_at = ? WHERE id = ?`),
		nullMillis(until), toMillis(s.clock()), id,
	)
	if err != nil {
		return fmt.Errorf("snoozing task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTask removes the task together with its subtasks and log rows.
func (s *SQLStore) DeleteTask(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM notification_logs WHERE task_id = ?`,
		`DELETE FROM subtasks WHERE task_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
			return fmt.Errorf("deleting task %d: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ListTasks returns a user's tasks by urgency (highest first), then due date.
func (s *SQLStore) ListTasks(ctx context.Context, userID int64, includeTerminal bool) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	if !includeTerminal {
		query += ` AND status NOT IN ('COMPLETED', 'CANCELLED')`
	}
	query += ` ORDER BY urgency_score DESC, due_at ASC, id ASC`
	return s.selectTasks(ctx, query, userID)
}

func (s *SQLStore) ListActiveTasks(ctx context.Context) ([]model.Task, error) {
	return s.selectTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status NOT IN ('COMPLETED', 'CANCELLED') ORDER BY id`)
}

func (s *SQLStore) selectTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) UpdateScoreIfChanged(ctx context.Context, id int64, score, epsilon float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE tasks SET urgency_score = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('COMPLETED', 'CANCELLED') AND ABS(urgency_score - ?) > ?`),
		score, toMillis(s.clock()), id, score, epsilon,
	)
	if err != nil {
		return false, fmt.Errorf("updating score for task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating score for task %d: %w", id, err)
	}
	return n > 0, nil
}

// ---- subtasks ----

type subtaskRow struct {
	ID        int64  `db:"id"`
	TaskID    int64  `db:"task_id"`
	Title     string `db:"title"`
	Completed bool   `db:"completed"`
	Position  int    `db:"position"`
}

func (r subtaskRow) toModel() model.Subtask {
	return model.Subtask{ID: r.ID, TaskID: r.TaskID, Title: r.Title, Completed: r.Completed, Order: r.Position}
}

// CreateSubtask appends st after the task's last subtask.
func (s *SQLStore) CreateSubtask(ctx context.Context, st *model.Subtask) error {
	var next int
	if err := s.db.GetContext(ctx, &next, s.q(`SELECT COALESCE(MAX(position), 0) + 1 FROM subtasks WHERE task_id = ?`), st.TaskID); err != nil {
		return fmt.Errorf("creating subtask: %w", err)
	}
	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO subtasks (task_id, title, completed, position) VALUES (?, ?, ?, ?) RETURNING id`),
		st.TaskID, st.Title, st.Completed, next,
	).Scan(&st.ID)
	if err != nil {
		return fmt.Errorf("creating subtask: %w", err)
	}
	st.Order = next
	return nil
}

func (s *SQLStore) GetSubtask(ctx context.Context, id int64) (model.Subtask, error) {
	var row subtaskRow
	if err := s.db.GetContext(ctx, &row, s.q(`SELECT id, task_id, title, completed, position FROM subtasks WHERE id = ?`), id); err != nil {
		return model.Subtask{}, notFound(err, fmt.Sprintf("subtask %d", id))
	}
	return row.toModel(), nil
}

func (s *SQLStore) ListSubtasks(ctx context.Context, taskID int64) ([]model.Subtask, error) {
	var rows []subtaskRow
	if err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, task_id, title, completed, position FROM subtasks WHERE task_id = ? ORDER BY position`), taskID); err != nil {
		return nil, fmt.Errorf("listing subtasks: %w", err)
	}
	out := make([]model.Subtask, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) SetSubtaskCompleted(ctx context.Context, id int64, completed bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE subtasks SET completed = ? WHERE id = ?`), completed, id)
	if err != nil {
		return fmt.Errorf("updating subtask %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subtask %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---- notification settings ----

const settingsColumns = `user_id, email_enabled, email_address, telegram_enabled, telegram_chat_id, discord_enabled, discord_webhook_url, notify_1hr_before, notify_24hr_before`

type settingsRow struct {
	UserID            int64  `db:"user_id"`
	EmailEnabled      bool   `db:"email_enabled"`
	EmailAddress      string `db:"email_address"`
	TelegramEnabled   bool   `db:"telegram_enabled"`
	TelegramChatID    string `db:"telegram_chat_id"`
	DiscordEnabled    bool   `db:"discord_enabled"`
	DiscordWebhookURL string `db:"discord_webhook_url"`
	Notify1hBefore    bool   `db:"notify_1hr_before"`
	Notify24hBefore   bool   `db:"notify_24hr_before"`
}

func (r settingsRow) toModel() model.NotificationSettings {
	return model.NotificationSettings(r)
}

func (s *SQLStore) GetSettings(ctx context.Context, userID int64) (model.NotificationSettings, error) {
	var row settingsRow
	if err := s.db.GetContext(ctx, &row, s.q(`SELECT `+settingsColumns+` FROM notification_settings WHERE user_id = ?`), userID); err != nil {
		return model.NotificationSettings{}, notFound(err, fmt.Sprintf("settings for user %d", userID))
	}
	return row.toModel(), nil
}

// GetOrCreateSettings returns the user's settings, inserting defaults on first access.
func (s *SQLStore) GetOrCreateSettings(ctx context.Context, userID int64) (model.NotificationSettings, error) {
	d := model.DefaultSettings(userID)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notification_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`),
		d.UserID, d.EmailEnabled, d.EmailAddress, d.TelegramEnabled, d.TelegramChatID,
		d.DiscordEnabled, d.DiscordWebhookURL, d.Notify1hBefore, d.Notify24hBefore,
	)
	if err != nil {
		return model.NotificationSettings{}, fmt.Errorf("creating default settings: %w", err)
	}
	return s.GetSettings(ctx, userID)
}

func (s *SQLStore) SaveSettings(ctx context.Context, ns model.NotificationSettings) error {
	ns.EmailAddress = strings.TrimSpace(ns.EmailAddress)
	ns.TelegramChatID = strings.TrimSpace(ns.TelegramChatID)
	ns.DiscordWebhookURL = strings.TrimSpace(ns.DiscordWebhookURL)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notification_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = excluded.email_enabled,
			email_address = excluded.email_address,
			telegram_enabled = excluded.telegram_enabled,
			telegram_chat_id = excluded.telegram_chat_id,
			discord_enabled = excluded.discord_enabled,
			discord_webhook_url = excluded.discord_webhook_url,
			notify_1hr_before = excluded.notify_1hr_before,
			notify_24hr_before = excluded.notify_24hr_before`),
		ns.UserID, ns.EmailEnabled, ns.EmailAddress, ns.TelegramEnabled, ns.TelegramChatID,
		ns.DiscordEnabled, ns.DiscordWebhookURL, ns.Notify1hBefore, ns.Notify24hBefore,
	)
	if err != nil {
		return fmt.Errorf("saving settings for user %d: %w", ns.UserID, err)
	}
	return nil
}

// ---- notification log ----

type logRow struct {
	ID           int64         `db:"id"`
	TaskID       int64         `db:"task_id"`
	Channel      string        `db:"channel"`
	Status       string        `db:"status"`
	ReminderKind string        `db:"reminder_kind"`
	ScheduledFor int64         `db:"scheduled_for"`
	SentAt       sql.NullInt64 `db:"sent_at"`
	ErrorMessage string        `db:"error_message"`
	CreatedAt    int64         `db:"created_at"`
}

func (s *SQLStore) AppendLog(ctx context.Context, l *model.NotificationLog) error {
	now := s.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO notification_logs (task_id, channel, status, reminder_kind, scheduled_for, sent_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		l.TaskID, string(l.Channel), string(l.Status), string(l.ReminderKind),
		toMillis(l.ScheduledFor), nullMillis(l.SentAt), l.ErrorMessage, toMillis(l.CreatedAt),
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("appending notification log: %w", err)
	}
	return nil
}

func (s *SQLStore) ListLogs(ctx context.Context, taskID int64) ([]model.NotificationLog, error) {
	var rows []logRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, task_id, channel, status, reminder_kind, scheduled_for, sent_at, error_message, created_at
		FROM notification_logs WHERE task_id = ? ORDER BY id`), taskID)
	if err != nil {
		return nil, fmt.Errorf("listing notification logs: %w", err)
	}
	out := make([]model.NotificationLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.NotificationLog{
			ID:           r.ID,
			TaskID:       r.TaskID,
			Channel:      model.Channel(r.Channel),
			Status:       model.LogStatus(r.Status),
			ReminderKind: model.ReminderKind(r.ReminderKind),
			ScheduledFor: fromMillis(r.ScheduledFor),
			SentAt:       timePtr(r.SentAt),
			ErrorMessage: r.ErrorMessage,
			CreatedAt:    fromMillis(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM notification_logs WHERE created_at < ?`), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting old notification logs: %w", err)
	}
	return res.RowsAffected()
}
