package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"auratask/internal/task/engine"
	"auratask/internal/task/scheduler"
	logx "auratask/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	var pingErr error
	s := New(Config{}, Sources{Ping: func(context.Context) error { return pingErr }}, logx.Nop())
	h := s.Handler(Config{})

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
	pingErr = errors.New("db gone")
	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with failing ping = %d, want 503", rec.Code)
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Sources{
		Engine: func() engine.Snapshot { return engine.Snapshot{Workers: 4, QueueCap: 256} },
		Schedules: func() []scheduler.ScheduleInfo {
			return []scheduler.ScheduleInfo{{Name: "urgency.rescan", Spec: "@every 5m0s"}}
		},
	}, logx.Nop())
	h := s.Handler(Config{})

	var snap engine.Snapshot
	rec := get(t, h, "/debug/engine", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode engine snapshot: %v", err)
	}
	if snap.Workers != 4 || snap.QueueCap != 256 {
		t.Fatalf("snapshot = %+v", snap)
	}

	var infos []scheduler.ScheduleInfo
	rec = get(t, h, "/debug/schedules", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode schedules: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "urgency.rescan" {
		t.Fatalf("schedules = %+v", infos)
	}
}

func TestMissingSourceIsNotFound(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Sources{}, logx.Nop()).Handler(Config{})
	if rec := get(t, h, "/debug/engine", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("engine without source = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	cfg := Config{Token: "s3cret", Pprof: true}
	h := New(cfg, Sources{}, logx.Nop()).Handler(cfg)

	cases := []struct {
		name string
		path string
		hdr  map[string]string
		want int
	}{
		{"no token", "/healthz", nil, http.StatusUnauthorized},
		{"wrong token", "/healthz?token=nope", nil, http.StatusUnauthorized},
		{"query token", "/healthz?token=s3cret", nil, http.StatusOK},
		{"bearer", "/healthz", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"pprof index", "/debug/pprof/?token=s3cret", nil, http.StatusOK},
	}
	for _, tc := range cases {
		if rec := get(t, h, tc.path, tc.hdr); rec.Code != tc.want {
			t.Fatalf("%s: code = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
