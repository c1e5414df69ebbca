package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createTask(t *testing.T, st *SQLStore, userID int64, due time.Time) model.Task {
	t.Helper()
	task := model.Task{UserID: userID, Title: "write report", Priority: model.PriorityHigh, DueDate: due}
	require.NoError(t, st.CreateTask(context.Background(), &task))
	require.NotZero(t, task.ID)
	return task
}

func TestTaskRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.FixedZone("X", 3600))
	snooze := due.Add(-2 * time.Hour)
	task := model.Task{
		UserID:       7,
		Title:        "file taxes",
		Description:  "all of them",
		Priority:     "urgent",
		DueDate:      due,
		SnoozedUntil: &snooze,
		UrgencyScore: 42.5,
	}
	require.NoError(t, st.CreateTask(ctx, &task))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.PriorityUrgent, got.Priority)
	require.Equal(t, model.StatusPending, got.Status)
	require.Equal(t, "all of them", got.Description)
	require.True(t, got.DueDate.Equal(due.Truncate(time.Millisecond)), "due = %v", got.DueDate)
	require.Equal(t, time.UTC, got.DueDate.Location())
	require.NotNil(t, got.SnoozedUntil)
	require.True(t, got.SnoozedUntil.Equal(snooze.Truncate(time.Millisecond)))
	require.InDelta(t, 42.5, got.UrgencyScore, 1e-9)

	moved, err := st.TransitionStatus(ctx, task.ID, model.StatusPending, model.StatusInProgress)
	require.NoError(t, err)
	require.True(t, moved)
	require.NoError(t, st.SetSnooze(ctx, task.ID, nil))
	again, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, again.Status)
	require.Nil(t, again.SnoozedUntil)
}

func TestTransitionStatusRequiresExpectedStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	moved, err := st.TransitionStatus(ctx, task.ID, model.StatusPending, model.StatusCompleted)
	require.NoError(t, err)
	require.True(t, moved)

	// A writer that read PENDING before the completion must not reopen it.
	moved, err = st.TransitionStatus(ctx, task.ID, model.StatusPending, model.StatusInProgress)
	require.NoError(t, err)
	require.False(t, moved)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
}

func TestPatchTaskWritesOnlySetFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	// Completed and snoozed after the caller read the row.
	_, err := st.TransitionStatus(ctx, task.ID, model.StatusPending, model.StatusCompleted)
	require.NoError(t, err)
	until := time.Now().Add(time.Hour)
	require.NoError(t, st.SetSnooze(ctx, task.ID, &until))

	title := "renamed"
	high := model.PriorityHigh
	due := time.Now().Add(72 * time.Hour).UTC()
	require.NoError(t, st.PatchTask(ctx, task.ID, TaskPatch{Title: &title, Priority: &high, DueDate: &due}))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, model.PriorityHigh, got.Priority)
	require.True(t, got.DueDate.Equal(due.Truncate(time.Millisecond)))
	require.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.SnoozedUntil)
}

func TestGetTaskNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetTask(context.Background(), 999)
	require.True(t, errors.Is(err, ErrNotFound), "err = %v", err)

	title := "x"
	err = st.PatchTask(context.Background(), 999, TaskPatch{Title: &title})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.SetSnooze(context.Background(), 999, nil), ErrNotFound)
}

func TestUpdateScoreIfChanged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	changed, err := st.UpdateScoreIfChanged(ctx, task.ID, 100, 0.01)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = st.UpdateScoreIfChanged(ctx, task.ID, 100.005, 0.01)
	require.NoError(t, err)
	require.False(t, changed, "difference below epsilon must not write")

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.InDelta(t, 100, got.UrgencyScore, 1e-9)

	_, err = st.TransitionStatus(ctx, task.ID, got.Status, model.StatusCompleted)
	require.NoError(t, err)
	changed, err = st.UpdateScoreIfChanged(ctx, task.ID, 250, 0.01)
	require.NoError(t, err)
	require.False(t, changed, "terminal tasks keep their score")
}

func TestListTasksOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := createTask(t, st, 1, now.Add(48*time.Hour))
	b := createTask(t, st, 1, now.Add(2*time.Hour))
	c := createTask(t, st, 1, now.Add(time.Hour))
	createTask(t, st, 2, now)

	_, err := st.UpdateScoreIfChanged(ctx, a.ID, 10, 0.01)
	require.NoError(t, err)
	_, err = st.UpdateScoreIfChanged(ctx, b.ID, 80, 0.01)
	require.NoError(t, err)

	_, err = st.TransitionStatus(ctx, c.ID, c.Status, model.StatusCancelled)
	require.NoError(t, err)

	active, err := st.ListTasks(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, b.ID, active[0].ID)
	require.Equal(t, a.ID, active[1].ID)

	all, err := st.ListTasks(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, all, 3)

	everyone, err := st.ListActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, everyone, 3)
}

func TestDeleteTaskRemovesChildren(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	sub := model.Subtask{TaskID: task.ID, Title: "step"}
	require.NoError(t, st.CreateSubtask(ctx, &sub))
	require.NoError(t, st.AppendLog(ctx, &model.NotificationLog{
		TaskID:       task.ID,
		Channel:      model.ChannelEmail,
		Status:       model.LogSent,
		ReminderKind: model.Reminder1h,
		ScheduledFor: task.DueDate.Add(-time.Hour),
	}))

	require.NoError(t, st.DeleteTask(ctx, task.ID))

	_, err := st.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetSubtask(ctx, sub.ID)
	require.ErrorIs(t, err, ErrNotFound)
	logs, err := st.ListLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, logs)

	require.ErrorIs(t, st.DeleteTask(ctx, task.ID), ErrNotFound)
}

func TestSubtasks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	for _, title := range []string{"one", "two", "three"} {
		sub := model.Subtask{TaskID: task.ID, Title: title}
		require.NoError(t, st.CreateSubtask(ctx, &sub))
	}
	subs, err := st.ListSubtasks(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for i, s := range subs {
		require.Equal(t, i+1, s.Order)
		require.False(t, s.Completed)
	}

	require.NoError(t, st.SetSubtaskCompleted(ctx, subs[1].ID, true))
	got, err := st.GetSubtask(ctx, subs[1].ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
	require.Equal(t, "two", got.Title)

	require.ErrorIs(t, st.SetSubtaskCompleted(ctx, 12345, true), ErrNotFound)
}

func TestSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetSettings(ctx, 5)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := st.GetOrCreateSettings(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, model.DefaultSettings(5), got)

	got.TelegramEnabled = true
	got.TelegramChatID = " 12345 "
	got.Notify24hBefore = false
	require.NoError(t, st.SaveSettings(ctx, got))

	again, err := st.GetOrCreateSettings(ctx, 5)
	require.NoError(t, err)
	require.True(t, again.TelegramEnabled)
	require.Equal(t, "12345", again.TelegramChatID)
	require.False(t, again.Notify24hBefore)
	require.True(t, again.EmailEnabled)
}

func TestLogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := createTask(t, st, 1, time.Now().Add(time.Hour))

	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	old := model.NotificationLog{
		TaskID:       task.ID,
		Channel:      model.ChannelDiscord,
		Status:       model.LogSent,
		ReminderKind: model.ReminderAtDue,
		ScheduledFor: sent,
		SentAt:       &sent,
		CreatedAt:    sent,
	}
	require.NoError(t, st.AppendLog(ctx, &old))
	fresh := model.NotificationLog{
		TaskID:       task.ID,
		Channel:      model.ChannelEmail,
		Status:       model.LogFailed,
		ReminderKind: model.Reminder24h,
		ScheduledFor: sent,
		ErrorMessage: "smtp: connection refused",
	}
	require.NoError(t, st.AppendLog(ctx, &fresh))

	logs, err := st.ListLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, model.ChannelDiscord, logs[0].Channel)
	require.NotNil(t, logs[0].SentAt)
	require.True(t, logs[0].SentAt.Equal(sent))
	require.Nil(t, logs[1].SentAt)
	require.Equal(t, "smtp: connection refused", logs[1].ErrorMessage)

	n, err := st.DeleteLogsBefore(ctx, sent.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	logs, err = st.ListLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.ChannelEmail, logs[0].Channel)
}
