package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedAPI serves a canned sequence of snapshots; the last one
// repeats once the script runs out.
type scriptedAPI struct {
	mu        sync.Mutex
	submits   []string
	fetches   int
	script    []*ConversationSnapshot
	submitErr error
	fetchErrs map[int]error // keyed by zero-based fetch index
}

func (s *scriptedAPI) SubmitQuery(ctx context.Context, sessionID, query, model string) (*SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submits = append(s.submits, query)
	return &SubmitResponse{SessionID: sessionID, RequestID: "r1"}, nil
}

func (s *scriptedAPI) FetchConversation(ctx context.Context, sessionID string) (*ConversationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.fetches
	s.fetches++
	if err, ok := s.fetchErrs[idx]; ok {
		return nil, err
	}
	if len(s.script) == 0 {
		return &ConversationSnapshot{SessionID: sessionID}, nil
	}
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx], nil
}

func (s *scriptedAPI) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// fakeClock makes sleeps instantaneous while keeping elapsed time
// observable.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	log []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.log = append(c.log, d)
	return ctx.Err()
}

func newTestCoordinator(api ConversationAPI, refresh time.Duration) (*Coordinator, *fakeClock) {
	coord := NewCoordinator(api, "demo", ModelGPT5, refresh)
	clock := &fakeClock{t: time.Unix(0, 0)}
	coord.now = clock.Now
	coord.sleep = clock.Sleep
	return coord, clock
}

func processingSnap(id string, msgs ...Message) *ConversationSnapshot {
	return &ConversationSnapshot{SessionID: "demo", CurrentRequestID: &id, Conversation: msgs}
}

func settledSnap(msgs ...Message) *ConversationSnapshot {
	return &ConversationSnapshot{SessionID: "demo", Conversation: msgs}
}

func TestSubmitRejectsEmptyQuery(t *testing.T) {
	api := &scriptedAPI{}
	coord, _ := newTestCoordinator(api, time.Second)

	for _, q := range []string{"", "   ", "\t\n "} {
		err := coord.Submit(context.Background(), q)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Submit(%q) = %v, want ValidationError", q, err)
		}
	}

	if len(api.submits) != 0 || api.fetchCount() != 0 {
		t.Errorf("no network calls expected, got %d submits / %d fetches", len(api.submits), api.fetchCount())
	}
	if coord.State() != StateIdle {
		t.Errorf("state = %v, want idle", coord.State())
	}
}

func TestSubmitPollsUntilSettled(t *testing.T) {
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hello"}}
	ai := Message{Type: MessageTypeAI, Agent: "greeter", Content: &MessageContent{Answer: "Hi!"}}

	api := &scriptedAPI{script: []*ConversationSnapshot{
		processingSnap("r1", human),
		settledSnap(human, ai),
	}}
	coord, _ := newTestCoordinator(api, time.Second)

	var published []*ConversationSnapshot
	coord.OnSnapshot = func(s *ConversationSnapshot) { published = append(published, s) }

	if err := coord.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := api.fetchCount(); got != 2 {
		t.Errorf("fetches = %d, want exactly 2", got)
	}
	if len(api.submits) != 1 {
		t.Errorf("submits = %d, want 1", len(api.submits))
	}
	if coord.State() != StateSettled {
		t.Errorf("state = %v, want settled", coord.State())
	}
	if coord.InFlight() {
		t.Error("in-flight indicator still set after settlement")
	}

	final := coord.Snapshot()
	if len(final.Conversation) != 2 {
		t.Fatalf("final conversation has %d messages, want 2", len(final.Conversation))
	}
	if final.Processing() {
		t.Error("final snapshot still processing")
	}
	if len(published) != 2 {
		t.Errorf("published %d snapshots, want 2", len(published))
	}
}

func TestSubmitStopsOnClearedRequestID(t *testing.T) {
	// Request id cleared but conversation still ends in human: stop
	// condition (a) alone must end the loop.
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hello"}}
	api := &scriptedAPI{script: []*ConversationSnapshot{settledSnap(human)}}
	coord, _ := newTestCoordinator(api, time.Second)

	if err := coord.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := api.fetchCount(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestSubmitTimesOutAndKeepsSnapshot(t *testing.T) {
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hello"}}
	api := &scriptedAPI{script: []*ConversationSnapshot{processingSnap("r1", human)}}
	coord, clock := newTestCoordinator(api, time.Second)

	if err := coord.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("timeout must not surface as an error, got %v", err)
	}

	if coord.State() != StateSettled {
		t.Errorf("state = %v, want settled", coord.State())
	}
	if coord.InFlight() {
		t.Error("in-flight indicator still set after timeout")
	}
	if !coord.Snapshot().Processing() {
		t.Error("last fetched (still processing) snapshot must be retained")
	}
	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed < settleAfter {
		t.Errorf("loop gave up after %v, before the %v ceiling", elapsed, settleAfter)
	}
}

func TestPollIntervalFloor(t *testing.T) {
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hi"}}
	ai := Message{Type: MessageTypeAI, Content: &MessageContent{Answer: "ok"}}
	api := &scriptedAPI{script: []*ConversationSnapshot{
		processingSnap("r1", human),
		processingSnap("r1", human),
		settledSnap(human, ai),
	}}

	// Configured well below the floor.
	coord, clock := newTestCoordinator(api, 10*time.Millisecond)

	if err := coord.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if len(clock.log) == 0 {
		t.Fatal("expected at least one inter-poll wait")
	}
	for i, d := range clock.log {
		if d < pollFloor {
			t.Errorf("wait %d was %v, below the %v floor", i, d, pollFloor)
		}
	}
}

func TestSubmitFailureSettlesImmediately(t *testing.T) {
	boom := &BackendError{Op: "POST /v1/chat failed", Status: 500, Body: "boom"}
	api := &scriptedAPI{submitErr: boom}
	coord, _ := newTestCoordinator(api, time.Second)

	var surfaced error
	coord.OnError = func(err error) { surfaced = err }

	err := coord.Submit(context.Background(), "hello")
	if !errors.Is(err, boom) && err != boom {
		t.Errorf("Submit = %v, want the backend error", err)
	}
	if surfaced == nil {
		t.Error("submission failure was not surfaced")
	}
	if api.fetchCount() != 0 {
		t.Errorf("polling must not start after a failed submission, got %d fetches", api.fetchCount())
	}
	if coord.State() != StateSettled {
		t.Errorf("state = %v, want settled", coord.State())
	}
}

func TestPollErrorIsRecoverable(t *testing.T) {
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hi"}}
	ai := Message{Type: MessageTypeAI, Content: &MessageContent{Answer: "ok"}}
	api := &scriptedAPI{
		script:    []*ConversationSnapshot{settledSnap(human, ai), settledSnap(human, ai)},
		fetchErrs: map[int]error{0: &NetworkError{Op: "GET conversation failed", Err: errors.New("refused")}},
	}
	coord, _ := newTestCoordinator(api, time.Second)

	var surfaced []error
	coord.OnError = func(err error) { surfaced = append(surfaced, err) }

	if err := coord.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(surfaced) != 1 {
		t.Errorf("surfaced %d errors, want 1", len(surfaced))
	}
	if coord.Snapshot() == nil {
		t.Fatal("loop must recover and publish the next snapshot")
	}
	if got := api.fetchCount(); got != 2 {
		t.Errorf("fetches = %d, want 2 (one failed, one recovered)", got)
	}
}

func TestSecondSubmitWhileInFlightIsRejected(t *testing.T) {
	coord, _ := newTestCoordinator(&scriptedAPI{}, time.Second)
	coord.setState(StatePolling)

	err := coord.Submit(context.Background(), "another one")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Submit during polling = %v, want ValidationError", err)
	}
}

func TestSubmitStopsOnCancel(t *testing.T) {
	human := Message{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hi"}}
	api := &scriptedAPI{script: []*ConversationSnapshot{processingSnap("r1", human)}}
	coord, _ := newTestCoordinator(api, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The scripted fetch ignores ctx, so the cancellation lands in the
	// inter-poll wait.
	err := coord.Submit(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Submit = %v, want context.Canceled", err)
	}
	if coord.State() != StateSettled {
		t.Errorf("state = %v, want settled", coord.State())
	}
}
