package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

type Config struct {
	SendTimeout time.Duration
	RatePerSec  float64
	Burst       int
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	return c
}

// Registry routes sends to the sender of a channel, bounding each call with
// SendTimeout and a per-channel token bucket.
//
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	log      logx.Logger
	senders  map[model.Channel]Sender
	limiters map[model.Channel]*rate.Limiter
}

func NewRegistry(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		log:      log.With(logx.Component("channel")),
		senders:  map[model.Channel]Sender{},
		limiters: map[model.Channel]*rate.Limiter{},
	}
	r.applyLocked(cfg)
	return r
}

// Apply swaps timeout and rate settings. Limiters are rebuilt.
func (r *Registry) Apply(cfg Config) {
	r.mu.Lock()
	r.applyLocked(cfg)
	r.mu.Unlock()
}

func (r *Registry) applyLocked(cfg Config) {
	r.cfg = cfg.withDefaults()
	for ch := range r.limiters {
		r.limiters[ch] = rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.Burst)
	}
}

// Register installs s for ch, replacing any previous sender. A nil s removes it.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.senders, ch)
		delete(r.limiters, ch)
		return
	}
	r.senders[ch] = s
	r.limiters[ch] = rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.Burst)
}

func (r *Registry) Has(ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[ch]
	return ok
}

// Send delivers through ch. A channel without sender fails permanently.
func (r *Registry) Send(ctx context.Context, ch model.Channel, dest, subject, body string) error {
	r.mu.RLock()
	s := r.senders[ch]
	lim := r.limiters[ch]
	timeout := r.cfg.SendTimeout
	r.mu.RUnlock()

	if s == nil {
		return Permanent(fmt.Errorf("%s: %w", ch, ErrNoSender))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", ch, err)
		}
	}

	start := time.Now()
	err := s.Send(ctx, dest, subject, body)
	if err != nil {
		return fmt.Errorf("%s: %w", ch, err)
	}
	r.log.Debug("message sent", logx.Channel(ch), logx.Duration("took", time.Since(start)))
	return nil
}
