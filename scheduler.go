package main

import (
	"context"
	"sync"
	"time"
)

// RefreshScheduler periodically re-reads the conversation while the
// last fetched snapshot still shows an outstanding request and the
// user has auto-refresh enabled. It is independent of any in-flight
// submission: both may poll at once, the fetches are idempotent reads
// and the last snapshot written wins.
//
// Reconfigure is the single entry point: callers re-evaluate it after
// every snapshot or settings change, and the scheduler tears down and
// restarts its timer instead of stacking a second one.
type RefreshScheduler struct {
	OnSnapshot func(*ConversationSnapshot)
	OnError    func(error)

	api ConversationAPI

	mu       sync.Mutex
	cancel   context.CancelFunc
	session  string
	interval time.Duration
	running  bool
}

func NewRefreshScheduler(api ConversationAPI) *RefreshScheduler {
	return &RefreshScheduler{api: api}
}

// Reconfigure applies the current desired state. active is the
// caller's evaluation of "auto-refresh enabled AND session
// processing". A change of session or interval while running restarts
// the timer; active=false cancels it. Idempotent under repeated calls
// with the same arguments.
func (s *RefreshScheduler) Reconfigure(sessionID string, interval time.Duration, active bool) {
	if interval < pollFloor {
		interval = pollFloor
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && active && s.session == sessionID && s.interval == interval {
		return
	}

	s.stopLocked()

	if !active {
		return
	}

	s.session = sessionID
	s.interval = interval
	s.startLocked()
}

// Stop cancels the timer, if any. Safe to call at any time; the UI
// must call it on teardown so no periodic work leaks.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *RefreshScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *RefreshScheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}

func (s *RefreshScheduler) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	go s.tickLoop(ctx, s.session, s.interval)
}

func (s *RefreshScheduler) tickLoop(ctx context.Context, sessionID string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.api.FetchConversation(ctx, sessionID)
			if ctx.Err() != nil {
				// Cancelled mid-fetch; drop the result rather than
				// publishing for a torn-down configuration.
				return
			}
			if err != nil {
				if s.OnError != nil {
					s.OnError(err)
				}
				continue
			}
			if s.OnSnapshot != nil {
				s.OnSnapshot(snap)
			}
		}
	}
}
