package client

import (
	"sync"
	"time"
)

// RefreshScheduler holds at most one pending timer. Arming replaces any
// pending timer; Cancel always wins a race against a concurrent fire because
// the fired callback re-checks the generation under the same mutex that
// Cancel bumps it under.
type RefreshScheduler struct {
	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	fire       func()
}

// NewRefreshScheduler builds a scheduler invoking fire when the timer lapses
func NewRefreshScheduler(fire func()) *RefreshScheduler {
	return &RefreshScheduler{fire: fire}
}

// Schedule cancels any pending timer and arms a new one for d from now
func (s *RefreshScheduler) Schedule(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.generation++
	gen := s.generation

	if d < 0 {
		d = 0
	}

	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.generation != gen {
			// Cancelled or rescheduled while we were in flight.
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()

		s.fire()
	})
}

// Cancel invalidates any pending timer. Safe to call repeatedly and from any
// state; after Cancel returns, no fire from a previously armed timer runs.
func (s *RefreshScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.stopLocked()
}

// Pending reports whether a timer is currently armed
func (s *RefreshScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *RefreshScheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
