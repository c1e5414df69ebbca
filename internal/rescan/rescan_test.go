package rescan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auratask/internal/eventbus"
	"auratask/internal/model"
	"auratask/internal/storage"
	"auratask/internal/urgency"
	logx "auratask/pkg/logx"
)

var base = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.SQLStore
	bus   eventbus.Bus
	now   time.Time
	job   *Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := &fixture{store: st, bus: eventbus.New(), now: base}
	f.job = New(st, f.bus, logx.Nop(), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) create(t *testing.T, userID int64, due time.Time, p model.Priority, status model.Status) model.Task {
	t.Helper()
	task := model.Task{UserID: userID, Title: "t", Priority: p, Status: status, DueDate: due}
	require.NoError(t, f.store.CreateTask(context.Background(), &task))
	return task
}

func TestRunUpdatesActiveTasksOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, 1, base.Add(2*time.Hour), model.PriorityHigh, model.StatusPending)
	b := f.create(t, 2, base.Add(-3*time.Hour), model.PriorityLow, model.StatusInProgress)
	done := f.create(t, 1, base.Add(time.Hour), model.PriorityUrgent, model.StatusCompleted)

	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	res, err := f.job.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 2, res.Updated)

	got, err := f.store.GetTask(ctx, a.ID)
	require.NoError(t, err)
	require.InDelta(t, urgency.Score(a.DueDate, a.Priority, base), got.UrgencyScore, 1e-9)

	got, err = f.store.GetTask(ctx, b.ID)
	require.NoError(t, err)
	require.InDelta(t, 106.0, got.UrgencyScore, 1e-9)

	got, err = f.store.GetTask(ctx, done.ID)
	require.NoError(t, err)
	require.Zero(t, got.UrgencyScore)

	seen := map[int64]int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			require.Equal(t, eventbus.UrgencyUpdate, ev.Type)
			seen[ev.UserID] += len(ev.Data.([]ScoreUpdate))
		case <-time.After(time.Second):
			t.Fatal("missing urgency_update event")
		}
	}
	require.Equal(t, map[int64]int{1: 1, 2: 1}, seen)

	// Same instant again: nothing moved past epsilon.
	res, err = f.job.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)

	f.now = base.Add(30 * time.Minute)
	res, err = f.job.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Updated)
}

func TestRefreshTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.create(t, 1, base, model.PriorityMedium, model.StatusPending)
	score, changed, err := f.job.RefreshTask(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, changed)
	require.InDelta(t, 150.0, score, 1e-9)

	_, changed, err = f.job.RefreshTask(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, changed)

	closed := f.create(t, 1, base, model.PriorityMedium, model.StatusCancelled)
	score, changed, err = f.job.RefreshTask(ctx, closed.ID)
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, score)

	_, _, err = f.job.RefreshTask(ctx, 999)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanupLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, 1, base, model.PriorityMedium, model.StatusPending)

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, 2 * time.Hour} {
		row := model.NotificationLog{
			TaskID:       task.ID,
			Channel:      model.ChannelEmail,
			Status:       model.LogSent,
			ReminderKind: model.ReminderAtDue,
			ScheduledFor: base,
			CreatedAt:    base.Add(-age),
		}
		require.NoError(t, f.store.AppendLog(ctx, &row))
	}

	n, err := f.job.CleanupLogs(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	logs, err := f.store.ListLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
