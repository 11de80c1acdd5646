package responder

import "context"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryTurn is one prior turn handed to the generative backend. System
// messages never appear here.
type HistoryTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	ConversationID string        `json:"conversation_id"`
	UserMessage    string        `json:"user_message"`
	History        []HistoryTurn `json:"history"`
}

// Reply is the generative backend's answer. Fallback set means the backend
// could not produce a usable answer and the caller should use its canned
// response path.
type Reply struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Responder generates an answer for a user message given recent history.
// Implementations are stateless between calls.
type Responder interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
