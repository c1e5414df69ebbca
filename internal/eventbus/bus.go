package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Live-update event names pushed to a user's connected clients.
const (
	TaskCreated      = "task_created"
	TaskUpdated      = "task_updated"
	TaskDeleted      = "task_deleted"
	UrgencyUpdate    = "urgency_update"
	NotificationSent = "notification_sent"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// UserID is zero for process-internal events (engine lifecycle) and set for
// live updates addressed to one user.
type Event struct {
	Type   string
	UserID int64
	Time   time.Time
	Data   any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// PublishTo sends a user-addressed live update. A nil bus is a no-op.
func PublishTo(b Bus, userID int64, name string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: name, UserID: userID, Data: payload})
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
