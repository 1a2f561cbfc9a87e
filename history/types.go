package history

import "time"

// ExchangeEvent is the JSONL record for one settled submit/poll cycle.
type ExchangeEvent struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	TS        int64  `json:"ts"`
	Model     string `json:"model"`
	Query     string `json:"query"`
	Agent     string `json:"agent,omitempty"`
	Answer    string `json:"answer"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// Exchange is one stored query/answer pair.
type Exchange struct {
	SessionID string
	RequestID string
	Timestamp time.Time
	Query     string
	Agent     string
	Answer    string
	TimedOut  bool
}

// SearchResult represents a hit from the FTS index.
type SearchResult struct {
	SessionID string
	Timestamp time.Time
	Field     string // "query" or "answer"
	Preview   string
}

// SessionSummary aggregates one backend session's local log.
type SessionSummary struct {
	SessionID string
	Timestamp time.Time
	Model     string
	Summary   string
	Exchanges int
}
