package main

import (
	"strings"
	"testing"
)

func TestFormatConversationInternalToggle(t *testing.T) {
	msgs := []Message{
		{Type: MessageTypeHuman, Content: &MessageContent{Answer: "hello"}},
		{Type: MessageTypeAI, Agent: "greeter", Content: &MessageContent{
			Answer:  "Hi!",
			Thought: "the user greeted me",
			Plan:    "greet back",
		}},
	}

	hidden := formatConversation(msgs, false, 80)
	if strings.Contains(hidden, "the user greeted me") {
		t.Error("internal traces leaked with showInternal=false")
	}
	if !strings.Contains(hidden, "Hi!") {
		t.Error("answer text missing")
	}

	shown := formatConversation(msgs, true, 80)
	for _, want := range []string{"[thought]", "the user greeted me", "[plan]", "greet back"} {
		if !strings.Contains(shown, want) {
			t.Errorf("missing %q with showInternal=true", want)
		}
	}
}

func TestFormatConversationErrorContent(t *testing.T) {
	msgs := []Message{
		{Type: MessageTypeAI, Content: &MessageContent{Error: "agent unavailable"}},
	}
	out := formatConversation(msgs, false, 80)
	if !strings.Contains(out, "agent unavailable") {
		t.Error("error content should be displayed as the message text")
	}
}
