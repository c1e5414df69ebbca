package scheduler

import (
	"errors"
	"time"

	"auratask/internal/task/engine"
	logx "auratask/pkg/logx"
)

const (
	enqueueWarnThrottle = 5 * time.Second
	// enqueueWait bounds how long a trigger waits for queue space.
	enqueueWait = 30 * time.Second
)

func (s *Service) reportEnqueueError(name string, err error) {
	// Overlap skips are normal when a run outlasts its interval.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
