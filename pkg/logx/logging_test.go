package logx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type reminderChannel string

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestFileSinkWritesDomainFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auratask.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, nil)

	log = log.With(Component("delivery"), TaskID(7))
	log.Info("reminder sent", ReminderKey("notify_1hr_7"), Channel(reminderChannel("EMAIL")), UserID(3))
	log.Warn("send failed", Reminder(8, "notify_at_due_8"), Err(errors.New("boom")), Err(nil))
	require.NoError(t, svc.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	first := lines[0]
	require.Equal(t, "reminder sent", first["message"])
	require.Equal(t, "delivery", first["comp"])
	require.EqualValues(t, 7, first["task_id"])
	require.EqualValues(t, 3, first["user_id"])
	require.Equal(t, "notify_1hr_7", first["key"])
	require.Equal(t, "EMAIL", first["channel"])
	require.True(t, strings.HasPrefix(first["caller"].(string), "logging_test.go:"), first["caller"])

	// call fields override the fixed ones
	second := lines[1]
	require.EqualValues(t, 8, second["task_id"])
	require.Equal(t, "notify_at_due_8", second["key"])
	require.Equal(t, "boom", second["err"])
}

func TestApplyRaisesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auratask.log")
	cfg := Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}
	svc, log := New(cfg, nil)

	log.Debug("kept")
	cfg.Level = "WARNING"
	svc.Apply(cfg)
	log.Info("dropped")
	log.Warn("kept too")
	require.NoError(t, svc.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	require.Equal(t, "kept", lines[0]["message"])
	require.Equal(t, "kept too", lines[1]["message"])
}

func TestNopAndZeroLoggerDiscard(t *testing.T) {
	t.Parallel()
	var zero Logger
	require.True(t, zero.IsZero())
	require.False(t, zero.With(TaskID(1)).IsZero())

	zero.Error("nothing", TaskID(1))
	Nop().With(Component("x")).Warn("nothing")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		" debug ": zerolog.DebugLevel,
		"Warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in, zerolog.InfoLevel), "%q", in)
	}
}
