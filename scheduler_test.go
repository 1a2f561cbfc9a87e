package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

// countingAPI records fetches per session.
type countingAPI struct {
	mu        sync.Mutex
	bySession map[string]int
	snap      *ConversationSnapshot
}

func newCountingAPI(snap *ConversationSnapshot) *countingAPI {
	return &countingAPI{bySession: make(map[string]int), snap: snap}
}

func (c *countingAPI) SubmitQuery(ctx context.Context, sessionID, query, model string) (*SubmitResponse, error) {
	return &SubmitResponse{SessionID: sessionID}, nil
}

func (c *countingAPI) FetchConversation(ctx context.Context, sessionID string) (*ConversationSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySession[sessionID]++
	return c.snap, nil
}

func (c *countingAPI) count(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bySession[sessionID]
}

func TestSchedulerRunsWhileActive(t *testing.T) {
	rid := "r1"
	api := newCountingAPI(&ConversationSnapshot{SessionID: "demo", CurrentRequestID: &rid})
	sched := NewRefreshScheduler(api)
	defer sched.Stop()

	var mu sync.Mutex
	got := 0
	sched.OnSnapshot = func(*ConversationSnapshot) {
		mu.Lock()
		got++
		mu.Unlock()
	}

	sched.Reconfigure("demo", pollFloor, true)
	if !sched.Running() {
		t.Fatal("scheduler should be running")
	}

	time.Sleep(3 * pollFloor)

	if api.count("demo") == 0 {
		t.Error("expected at least one background fetch")
	}
	mu.Lock()
	defer mu.Unlock()
	if got == 0 {
		t.Error("expected snapshots to be delivered")
	}
}

func TestSchedulerStopsWhenInactive(t *testing.T) {
	rid := "r1"
	api := newCountingAPI(&ConversationSnapshot{SessionID: "demo", CurrentRequestID: &rid})
	sched := NewRefreshScheduler(api)
	defer sched.Stop()

	sched.Reconfigure("demo", pollFloor, true)
	time.Sleep(2 * pollFloor)

	// Auto-refresh toggled off mid-processing: no fetch beyond one
	// already in flight may occur.
	sched.Reconfigure("demo", pollFloor, false)
	if sched.Running() {
		t.Fatal("scheduler should have stopped")
	}

	time.Sleep(pollFloor / 2) // drain an in-flight tick, if any
	before := api.count("demo")
	time.Sleep(3 * pollFloor)
	if after := api.count("demo"); after != before {
		t.Errorf("fetches continued after stop: %d -> %d", before, after)
	}
}

func TestSchedulerSessionChangeTearsDownOldTimer(t *testing.T) {
	rid := "r1"
	api := newCountingAPI(&ConversationSnapshot{CurrentRequestID: &rid})
	sched := NewRefreshScheduler(api)
	defer sched.Stop()

	sched.Reconfigure("old", pollFloor, true)
	time.Sleep(2 * pollFloor)

	sched.Reconfigure("new", pollFloor, true)
	time.Sleep(pollFloor / 2)
	oldBefore := api.count("old")

	time.Sleep(3 * pollFloor)

	if oldAfter := api.count("old"); oldAfter != oldBefore {
		t.Errorf("old session still being fetched after change: %d -> %d", oldBefore, oldAfter)
	}
	if api.count("new") == 0 {
		t.Error("new session never fetched")
	}
}

func TestSchedulerReconfigureIsIdempotent(t *testing.T) {
	rid := "r1"
	api := newCountingAPI(&ConversationSnapshot{SessionID: "demo", CurrentRequestID: &rid})
	sched := NewRefreshScheduler(api)
	defer sched.Stop()

	// Repeated identical calls must not stack timers.
	for i := 0; i < 10; i++ {
		sched.Reconfigure("demo", pollFloor, true)
	}

	time.Sleep(4 * pollFloor)

	// With one timer at pollFloor, ~4 ticks fit in the window; a
	// stacked second timer would roughly double that.
	if got := api.count("demo"); got > 6 {
		t.Errorf("fetch rate suggests stacked timers: %d fetches in %v", got, 4*pollFloor)
	}
}

func TestSchedulerClampsInterval(t *testing.T) {
	api := newCountingAPI(&ConversationSnapshot{SessionID: "demo"})
	sched := NewRefreshScheduler(api)
	defer sched.Stop()

	sched.Reconfigure("demo", 10*time.Millisecond, true)

	sched.mu.Lock()
	interval := sched.interval
	sched.mu.Unlock()

	if interval != pollFloor {
		t.Errorf("interval = %v, want clamped to %v", interval, pollFloor)
	}
}
