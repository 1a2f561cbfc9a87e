package main

// Wire-level conversation types for the pooolify agent backend.
// A snapshot is replaced wholesale on every fetch; messages are never
// edited in place on the client.

const (
	MessageTypeHuman  = "MESSAGE_TYPE_HUMAN"
	MessageTypeAI     = "MESSAGE_TYPE_AI"
	MessageTypeSystem = "MESSAGE_TYPE_SYSTEM"
)

type ToolResult struct {
	ToolCallID string                 `json:"toolCallId"`
	ToolName   string                 `json:"toolName"`
	ToolIndex  int                    `json:"toolIndex"`
	RawArgs    string                 `json:"rawArgs"`
	Result     map[string]interface{} `json:"result"`
}

// MessageContent is a bag of optional fields. answer/error/completion
// carry user-facing text; thought/plan/route/decision are internal
// reasoning traces shown only on demand.
type MessageContent struct {
	Answer      string       `json:"answer,omitempty"`
	Thought     string       `json:"thought,omitempty"`
	Plan        string       `json:"plan,omitempty"`
	Route       string       `json:"route,omitempty"`
	Decision    string       `json:"decision,omitempty"`
	Error       string       `json:"error,omitempty"`
	Completion  string       `json:"completion,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

type Message struct {
	Type      string          `json:"type"`
	BubbleID  string          `json:"bubbleId,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
}

// DisplayText picks the user-facing text of a message: the first
// non-empty of answer, error, completion.
func (m Message) DisplayText() string {
	if m.Content == nil {
		return ""
	}
	if m.Content.Answer != "" {
		return m.Content.Answer
	}
	if m.Content.Error != "" {
		return m.Content.Error
	}
	return m.Content.Completion
}

// HasInternal reports whether the message carries reasoning traces.
func (m Message) HasInternal() bool {
	if m.Content == nil {
		return false
	}
	return m.Content.Thought != "" || m.Content.Plan != "" ||
		m.Content.Route != "" || m.Content.Decision != ""
}

// RoleLabel is the human-readable speaker name for a message.
func (m Message) RoleLabel() string {
	switch m.Type {
	case MessageTypeHuman:
		return "You"
	case MessageTypeAI:
		if m.Agent != "" {
			return m.Agent
		}
		return "AI"
	default:
		return "System"
	}
}

// ConversationSnapshot is the full materialized state of one session
// as of a single read. Ordering of Conversation is authoritative as
// returned by the backend.
type ConversationSnapshot struct {
	Conversation     []Message `json:"conversation"`
	SessionID        string    `json:"session_id"`
	CurrentRequestID *string   `json:"current_request_id"`
	MessageCount     int       `json:"message_count"`
}

// Processing reports whether the backend still has an outstanding
// request for this session.
func (s *ConversationSnapshot) Processing() bool {
	return s != nil && s.CurrentRequestID != nil && *s.CurrentRequestID != ""
}

// Completed reports whether the latest turn has been answered: the
// conversation ends in something other than a human message.
func (s *ConversationSnapshot) Completed() bool {
	if s == nil || len(s.Conversation) == 0 {
		return false
	}
	return s.Conversation[len(s.Conversation)-1].Type != MessageTypeHuman
}

// LastAnswer returns the display text and agent of the newest ai or
// system message, walking backwards past the human turn.
func (s *ConversationSnapshot) LastAnswer() (text, agent string, ok bool) {
	if s == nil {
		return "", "", false
	}
	for i := len(s.Conversation) - 1; i >= 0; i-- {
		msg := s.Conversation[i]
		if msg.Type == MessageTypeHuman {
			continue
		}
		if t := msg.DisplayText(); t != "" {
			return t, msg.Agent, true
		}
	}
	return "", "", false
}
