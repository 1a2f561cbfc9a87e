package main

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// Floor on the delay between consecutive polls, regardless of the
	// configured refresh interval.
	pollFloor = 250 * time.Millisecond

	// Wall-clock ceiling on one submit-then-poll cycle. Hitting it is
	// not an error; the last fetched snapshot stands.
	settleAfter = 120 * time.Second
)

type CoordinatorState int

const (
	StateIdle CoordinatorState = iota
	StateSubmitting
	StatePolling
	StateSettled
)

func (s CoordinatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	default:
		return "settled"
	}
}

// ConversationAPI is the slice of Client the coordinator and the
// refresh scheduler need. Tests substitute scripted backends.
type ConversationAPI interface {
	SubmitQuery(ctx context.Context, sessionID, query, model string) (*SubmitResponse, error)
	FetchConversation(ctx context.Context, sessionID string) (*ConversationSnapshot, error)
}

// Coordinator owns one submit-then-poll cycle per session: submit the
// query exactly once, then fetch sequentially until the backend clears
// the request id, the conversation completes, or the ceiling elapses.
// Never issue fetch N+1 before fetch N's result is processed.
//
// OnSnapshot always receives a complete snapshot which replaces the
// previous one; OnError surfaces failures without dropping the
// last-known-good state.
type Coordinator struct {
	OnSnapshot func(*ConversationSnapshot)
	OnError    func(error)

	api     ConversationAPI
	session string
	model   string
	refresh time.Duration

	mu    sync.Mutex
	state CoordinatorState
	snap  *ConversationSnapshot

	// Injection points for tests; real runs use the wall clock.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(api ConversationAPI, sessionID, model string, refresh time.Duration) *Coordinator {
	return &Coordinator{
		api:     api,
		session: sessionID,
		model:   model,
		refresh: refresh,
		state:   StateIdle,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight is the "processing" indicator for this coordinator's own
// cycle: true from submission until settlement.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSubmitting || c.state == StatePolling
}

// Snapshot returns the last snapshot this coordinator published.
func (c *Coordinator) Snapshot() *ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Coordinator) pollInterval() time.Duration {
	if c.refresh < pollFloor {
		return pollFloor
	}
	return c.refresh
}

func (c *Coordinator) setState(s CoordinatorState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) publish(snap *ConversationSnapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	if c.OnSnapshot != nil {
		c.OnSnapshot(snap)
	}
}

func (c *Coordinator) fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Submit runs the full cycle: Idle -> Submitting -> Polling -> Settled.
//
// An empty or whitespace-only query is rejected before any network
// call, as is a second Submit while one is still in flight. A fetch
// failure during polling is surfaced and retried on the next tick; a
// submission failure settles immediately. Cancelling ctx stops the
// cycle.
func (c *Coordinator) Submit(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return &ValidationError{Reason: "query must not be empty"}
	}

	c.mu.Lock()
	if c.state == StateSubmitting || c.state == StatePolling {
		c.mu.Unlock()
		return &ValidationError{Reason: "a request is already in flight for session " + c.session}
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	start := c.now()

	if _, err := c.api.SubmitQuery(ctx, c.session, query, c.model); err != nil {
		c.setState(StateSettled)
		c.fail(err)
		return err
	}

	c.setState(StatePolling)

	// fresh marks a loop exit caused by a just-published snapshot; the
	// settle refresh below only runs when the loop exited on timeout or
	// cancellation, so the view still matches the backend.
	fresh := false
	for {
		snap, err := c.api.FetchConversation(ctx, c.session)
		if err != nil {
			c.fail(err)
		} else {
			c.publish(snap)
			if !snap.Processing() || snap.Completed() {
				fresh = true
				break
			}
		}

		if c.now().Sub(start) >= settleAfter {
			break
		}

		if err := c.sleep(ctx, c.pollInterval()); err != nil {
			c.setState(StateSettled)
			return err
		}
	}

	c.setState(StateSettled)

	if !fresh {
		if snap, err := c.api.FetchConversation(ctx, c.session); err == nil {
			c.publish(snap)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
