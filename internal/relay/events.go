package relay

import (
	"encoding/json"
	"fmt"
)

// Conversation states reported to the client.
const (
	// StateConnected is sent once after the speech backend handshake.
	StateConnected = "connected"

	// StateUserSpeaking is sent (throttled) while speech energy is detected
	// on the inbound stream and the assistant is quiet.
	StateUserSpeaking = "user_speaking"

	// StateAssistantSpeaking is sent when the speech backend starts a reply.
	StateAssistantSpeaking = "assistant_speaking"

	// StateThinking is sent when a query is dispatched to the reasoning
	// backend.
	StateThinking = "thinking"
)

// Response sources.
const (
	// SourcePrimary marks text generated by the speech backend.
	SourcePrimary = "primary"

	// SourceSecondary marks text generated by the reasoning backend.
	SourceSecondary = "secondary"
)

// StateEvent is a conversation state change pushed to the client.
type StateEvent struct {
	Type   string `json:"type"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
	Source string `json:"source,omitempty"`

	// SecondaryAvailable is set on the connected event only and reports the
	// result of the reasoning-backend liveness probe.
	SecondaryAvailable *bool `json:"secondary_available,omitempty"`
}

// ResponseEvent carries generated text to the client. Partial events stream
// token by token; the closing event repeats the full accumulated text.
type ResponseEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Partial bool   `json:"partial"`
	Source  string `json:"source"`
}

// ErrorEvent reports a non-fatal problem to the client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func stateEvent(state, detail string) StateEvent {
	return StateEvent{Type: "state", State: state, Detail: detail}
}

func connectedEvent(secondaryAvailable bool) StateEvent {
	detail := "Connected. Reasoning backend available."
	if !secondaryAvailable {
		detail = "Connected. Reasoning backend unavailable, voice only."
	}
	ev := StateEvent{Type: "state", State: StateConnected, Detail: detail}
	ev.SecondaryAvailable = &secondaryAvailable
	return ev
}

func thinkingEvent() StateEvent {
	return StateEvent{
		Type:   "state",
		State:  StateThinking,
		Detail: "Thinking deeply...",
		Source: SourceSecondary,
	}
}

func responseEvent(text string, partial bool, source string) ResponseEvent {
	return ResponseEvent{Type: "response", Text: text, Partial: partial, Source: source}
}

func errorEvent(format string, args ...any) ErrorEvent {
	return ErrorEvent{Type: "error", Message: fmt.Sprintf(format, args...)}
}

// controlMessage is the JSON shape of inbound text messages from the client.
type controlMessage struct {
	Type string `json:"type"`
}

// parseControl decodes an inbound control message. Malformed JSON is
// tolerated: the proxy never tears a session down over a bad control frame.
func parseControl(data []byte) (controlMessage, bool) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMessage{}, false
	}
	return msg, msg.Type != ""
}
