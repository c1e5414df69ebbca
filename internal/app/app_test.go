package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auratask/internal/config"
	"auratask/internal/delivery"
	"auratask/internal/model"
	"auratask/internal/reminder"
	"auratask/internal/taskops"
)

func TestMapEngineConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapEngineConfig(&Config{})
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if got.Workers != 4 || got.QueueSize != 256 || got.RetryMax != 3 {
		t.Fatalf("engine = %+v, want workers 4, queue 256, retries 3", got)
	}
	if got.RetryDelay != time.Minute || got.DefaultTimeout != 2*time.Minute {
		t.Fatalf("engine durations = %v/%v, want 1m/2m", got.RetryDelay, got.DefaultTimeout)
	}

	cfg := &Config{Engine: config.EngineConfig{RetryMax: -1}}
	got, err = mapEngineConfig(cfg)
	if err != nil || got.RetryMax != 0 {
		t.Fatalf("negative retry_max = (%d, %v), want (0, nil)", got.RetryMax, err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{"default sqlite", config.StorageConfig{}, "sqlite", false},
		{"postgres with dsn", config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, "postgres", false},
		{"postgres without dsn", config.StorageConfig{Driver: "postgres"}, "", true},
		{"bad busy timeout", config.StorageConfig{BusyTimeout: "later"}, "", true},
		{"unknown", config.StorageConfig{Driver: "mongo"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&Config{Storage: tc.in})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && got.Driver != tc.driver {
				t.Fatalf("driver = %q, want %q", got.Driver, tc.driver)
			}
		})
	}
}

func TestMapRuntimeConfig(t *testing.T) {
	t.Parallel()
	rs, err := mapRuntimeConfig(&Config{})
	if err != nil || rs.Driver != runtimeDriverMemory {
		t.Fatalf("default runtime = (%q, %v), want memory", rs.Driver, err)
	}

	if _, err := mapRuntimeConfig(&Config{Runtime: config.RuntimeConfig{Driver: "redis"}}); err == nil {
		t.Fatalf("redis without addr accepted")
	}

	rs, err = mapRuntimeConfig(&Config{Runtime: config.RuntimeConfig{
		Driver: "redis",
		Redis:  config.RedisConfig{Addr: "127.0.0.1:6379", Lease: "2m", DB: 3},
	}})
	if err != nil {
		t.Fatalf("mapRuntimeConfig: %v", err)
	}
	if rs.Redis.Prefix != defaultRedisPrefix || rs.Redis.Lease != 2*time.Minute {
		t.Fatalf("redis = %+v", rs.Redis)
	}
	if rs.Client.Addr != "127.0.0.1:6379" || rs.Client.DB != 3 {
		t.Fatalf("client = %+v", rs.Client)
	}
}

func TestMapJobsConfig(t *testing.T) {
	t.Parallel()
	js, err := mapJobsConfig(&Config{})
	if err != nil {
		t.Fatalf("mapJobsConfig: %v", err)
	}
	if js.Rescan != "5m" || js.Cleanup != "0 2 * * *" || js.Retention != 30*24*time.Hour {
		t.Fatalf("jobs = %+v", js)
	}
	if _, err := mapJobsConfig(&Config{Jobs: config.JobsConfig{Timezone: "Mars/Olympus"}}); err == nil {
		t.Fatalf("invalid timezone accepted")
	}
	if _, err := mapJobsConfig(&Config{Jobs: config.JobsConfig{Rescan: "every so often"}}); err == nil {
		t.Fatalf("invalid rescan schedule accepted")
	}
}

func TestMapChannelsConfig(t *testing.T) {
	t.Parallel()
	cs, err := mapChannelsConfig(&Config{})
	if err != nil {
		t.Fatalf("mapChannelsConfig: %v", err)
	}
	if cs.EmailOn {
		t.Fatalf("email on without smtp host")
	}
	if !cs.DiscordOn {
		t.Fatalf("discord should default to on")
	}
	if cs.Registry.SendTimeout != 10*time.Second {
		t.Fatalf("send timeout = %v, want 10s", cs.Registry.SendTimeout)
	}
	if _, err := mapChannelsConfig(&Config{Channels: config.ChannelsConfig{RatePerSec: -1}}); err == nil {
		t.Fatalf("negative rate accepted")
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
logging:
  level: warn
storage:
  driver: sqlite
  path: %s
runtime:
  driver: memory
jobs:
  rescan: 1h
`, filepath.Join(dir, "auratask.db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppRestoresRemindersOnStart(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	ctx := context.Background()

	first, err := NewApp(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	res, err := first.Tasks().Create(ctx, taskops.CreateInput{
		UserID:   1,
		Title:    "Renew passport",
		Priority: "urgent",
		DueDate:  time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
	require.Len(t, res.Scheduled, 3)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, first.Stop(stopCtx, StopAppStop))

	second, err := NewApp(ctx, path)
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer func() { _ = second.Stop(stopCtx, StopAppStop) }()

	key := reminder.Key(model.Reminder24h, res.Task.ID)
	require.Eventually(t, func() bool {
		_, ok, err := second.delay.Pending(ctx, key)
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond)

	names := map[string]bool{}
	for _, s := range second.sched.Schedules() {
		names[s.Name] = true
	}
	require.True(t, names[jobRescan])
	require.True(t, names[jobCleanup])
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"runtime":{"driver":"carrier-pigeon"}}`), 0o600))
	_, err := NewApp(context.Background(), p)
	require.Error(t, err)
}

func TestNotificationsReflectRegisteredSenders(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a, err := NewApp(ctx, writeConfig(t, dir))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	got, err := a.Notifications().Channels(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []delivery.ChannelStatus{
		{Channel: model.ChannelEmail, Enabled: true},
		{Channel: model.ChannelTelegram},
		{Channel: model.ChannelDiscord, ServerReady: true},
	}, got)

	_, err = a.Notifications().SendTest(ctx, 1, model.ChannelEmail, "")
	require.ErrorIs(t, err, delivery.ErrChannelNotConfigured)
}
