package delay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logx "auratask/pkg/logx"
)

// Memory keeps one timer per key.
type Memory struct {
	exec Executor
	h    Handler
	opt  Options
	log  logx.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	timers map[string]*memEntry
}

type memEntry struct {
	timer *time.Timer
	item  Item
}

var _ Runtime = (*Memory)(nil)

func NewMemory(exec Executor, h Handler, opt Options, log logx.Logger) *Memory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Memory{
		exec:   exec,
		h:      h,
		opt:    opt,
		log:    log.With(logx.Component("delay.memory")),
		timers: map[string]*memEntry{},
	}
}

func (m *Memory) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.Info("delay runtime started", logx.String("kind", "memory"))
	return nil
}

// Stop drops every pending timer.
func (m *Memory) Stop(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	for k, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, k)
	}
	m.log.Info("delay runtime stopped", logx.String("kind", "memory"))
}

func (m *Memory) Submit(_ context.Context, key string, fireAt time.Time, payload []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("delay key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return ErrUnavailable
	}

	if e, ok := m.timers[key]; ok {
		e.timer.Stop()
		delete(m.timers, key)
	}
	it := Item{Key: key, FireAt: fireAt.UTC(), Payload: append([]byte(nil), payload...)}
	wait := time.Until(fireAt)
	if wait < 0 {
		wait = 0
	}
	// A callback only fires the entry it was created for; a replaced or
	// cancelled entry whose timer already started is ignored.
	e := &memEntry{item: it}
	e.timer = time.AfterFunc(wait, func() { m.fire(key, e) })
	m.timers[key] = e
	return nil
}

func (m *Memory) Cancel(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.timers[key]; ok {
		e.timer.Stop()
		delete(m.timers, key)
	}
	return nil
}

func (m *Memory) Pending(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return e.item.FireAt, true, nil
}

// Len returns the number of pending items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Memory) fire(key string, e *memEntry) {
	m.mu.Lock()
	if cur, ok := m.timers[key]; !ok || cur != e || m.cancel == nil {
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	ctx := m.ctx
	m.mu.Unlock()

	err := dispatch(ctx, m.exec, m.h, m.opt, m.log, e.item, nil, nil)
	if err == nil {
		return
	}
	m.log.Error("delayed item not dispatched", logx.ReminderKey(key), logx.Err(err))
	if m.h.OnFailure != nil {
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.h.OnFailure(fctx, e.item, err)
	}
}
