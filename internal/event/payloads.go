package event

import "encoding/json"

// StreamOpen is the first envelope on every connection.
type StreamOpen struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
}

// MessageDelta carries one incremental chunk of assistant text. Concatenating
// deltas in arrival order yields the MessageFinal text.
type MessageDelta struct {
	Text string `json:"text"`
}

// MessageFinal carries the complete assistant message after the model is done.
type MessageFinal struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// CardNextActions suggests concrete next steps to the user.
type CardNextActions struct {
	Actions []string `json:"actions"`
}

// CardPlan lays out a multi-step plan.
type CardPlan struct {
	Title string     `json:"title"`
	Steps []PlanStep `json:"steps"`
}

// PlanStep is one entry in a plan card.
type PlanStep struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// CardWeeklyReview summarizes the week for review sessions.
type CardWeeklyReview struct {
	Highlights []string `json:"highlights"`
	Focus      string   `json:"focus"`
}

// ToolRequest asks the client to run a catalog tool locally. The server never
// executes the tool itself; the client answers through the tool handshake
// endpoints, not the stream.
type ToolRequest struct {
	ToolID    string          `json:"tool_id"`
	SessionID string          `json:"session_id,omitempty"`
	Input     json.RawMessage `json:"input"`
}

// ToolStatus reflects a tool run's server-side state.
type ToolStatus struct {
	ToolRunID string `json:"tool_run_id"`
	ToolID    string `json:"tool_id"`
	Status    string `json:"status"`
}

// PolicyNotice surfaces a soft block (rate limit, entitlement) to the user.
type PolicyNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayload terminates the stream on an unrecoverable pipeline failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamDone terminates a successful stream.
type StreamDone struct{}
