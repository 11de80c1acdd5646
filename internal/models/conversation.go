package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationResolved  ConversationStatus = "resolved"
	ConversationEscalated ConversationStatus = "escalated"
	ConversationAbandoned ConversationStatus = "abandoned"
)

type ResolutionType string

const (
	ResolutionAIResolved ResolutionType = "ai_resolved"
	ResolutionEscalated  ResolutionType = "escalated"
	ResolutionUserLeft   ResolutionType = "user_left"
	ResolutionTimeout    ResolutionType = "timeout"
)

// Conversation is one support dialog owned by a single user. Status starts
// at active; resolved, escalated and abandoned are all terminal.
type Conversation struct {
	ID                   string             `json:"id"`
	UserID               int64              `json:"user_id"`
	Status               ConversationStatus `json:"status"`
	StartedAt            time.Time          `json:"started_at"`
	EndedAt              *time.Time         `json:"ended_at,omitempty"`
	EscalatedTicketRef   string             `json:"escalated_ticket_ref,omitempty"`
	ResolutionType       ResolutionType     `json:"resolution_type,omitempty"`
	MessageCount         int                `json:"message_count"`
	FallbackAttemptCount int                `json:"fallback_attempt_count"`
}

func NewConversation(userID int64) *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    ConversationActive,
		StartedAt: time.Now(),
	}
}

// Terminal reports whether the conversation can accept no further turns.
func (c *Conversation) Terminal() bool {
	return c.Status != ConversationActive
}

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAI     SenderType = "ai"
	SenderSystem SenderType = "system"
)

type AnswerSource string

const (
	AnswerFromKnowledgeBase AnswerSource = "knowledge_base"
	AnswerFromGenerative    AnswerSource = "generative"
	AnswerFromFallback      AnswerSource = "generative_fallback"
	AnswerFromFeedback      AnswerSource = "improved_from_feedback"
)

// Message is one turn in a conversation. The ai variant always carries a
// confidence score and may link the knowledge entry it was answered from;
// user and system messages carry neither. Append-only except WasHelpful.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Sender         SenderType   `json:"sender"`
	Text           string       `json:"text"`
	Confidence     *float64     `json:"confidence,omitempty"`
	KnowledgeID    *int64       `json:"knowledge_id,omitempty"`
	WasHelpful     *bool        `json:"was_helpful,omitempty"`
	Source         AnswerSource `json:"source,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func NewUserMessage(conversationID, text string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         SenderUser,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

func NewSystemMessage(conversationID, text string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         SenderSystem,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

// NewAIMessage builds an assistant turn; confidence is mandatory for the
// ai sender so it is a plain parameter, not a pointer.
func NewAIMessage(conversationID, text string, confidence float64, source AnswerSource, knowledgeID *int64) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         SenderAI,
		Text:           text,
		Confidence:     &confidence,
		KnowledgeID:    knowledgeID,
		Source:         source,
		CreatedAt:      time.Now(),
	}
}
