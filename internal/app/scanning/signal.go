package scanning

import "sync"

// execSignals carries pause and cancel requests from the controller to the
// executor. Requests are sticky flags the executor polls at item boundaries;
// the executor never learns who asked, only that someone did.
//
// First-wins semantics: for any signal, exactly one concurrent requester
// observes true. All request methods are safe for concurrent use.
type execSignals struct {
	mu        sync.Mutex
	cancelled bool
	paused    bool
	resume    chan struct{} // non-nil while paused; closed to unpark
}

func newExecSignals() *execSignals { return &execSignals{} }

// RequestPause flags a pause. Returns false when the executor is already
// pausing, paused, or cancelled.
func (s *execSignals) RequestPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.paused {
		return false
	}
	s.paused = true
	s.resume = make(chan struct{})
	return true
}

// RequestResume clears a pause and unparks the executor. Returns false when
// not paused or already cancelled.
func (s *execSignals) RequestResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || !s.paused {
		return false
	}
	s.paused = false
	close(s.resume)
	s.resume = nil
	return true
}

// RequestCancel flags cancellation and clears any pending pause so a parked
// executor unwinds. Returns false when already cancelled.
func (s *execSignals) RequestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return false
	}
	s.cancelled = true
	if s.paused {
		s.paused = false
		close(s.resume)
		s.resume = nil
	}
	return true
}

// Cancelled reports whether cancellation has been requested.
func (s *execSignals) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// PauseRequested reports whether a pause is pending or in effect.
func (s *execSignals) PauseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// resumeGate returns the channel to park on, nil when not paused. The channel
// is closed by RequestResume or RequestCancel; the executor must re-check
// Cancelled after unparking.
func (s *execSignals) resumeGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return nil
	}
	return s.resume
}
