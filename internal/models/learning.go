package models

import (
	"time"

	"github.com/google/uuid"
)

type FeedbackType string

const (
	FeedbackIncorrect  FeedbackType = "incorrect"
	FeedbackIncomplete FeedbackType = "incomplete"
	FeedbackUnclear    FeedbackType = "unclear"
	FeedbackOutdated   FeedbackType = "outdated"
	FeedbackOther      FeedbackType = "other"
)

type LearningStatus string

const (
	LearningPending     LearningStatus = "pending"
	LearningLearned     LearningStatus = "learned"
	LearningReviewed    LearningStatus = "reviewed"
	LearningRejected    LearningStatus = "rejected"
	LearningAutoLearned LearningStatus = "auto_learned"
)

// FeedbackDetail records one piece of negative feedback on an ai message.
// Status moves forward only; the single allowed regression is an explicit
// rejection.
type FeedbackDetail struct {
	ID                    string         `json:"id"`
	MessageID             string         `json:"message_id"`
	ConversationID        string         `json:"conversation_id"`
	OriginalQuestion      string         `json:"original_question"`
	OriginalAnswer        string         `json:"original_answer"`
	FeedbackType          FeedbackType   `json:"feedback_type"`
	FeedbackText          string         `json:"feedback_text,omitempty"`
	UserCorrectAnswer     string         `json:"user_correct_answer,omitempty"`
	RetryAttempted        bool           `json:"retry_attempted"`
	ImprovedAnswer        string         `json:"improved_answer,omitempty"`
	ImprovedAnswerHelpful *bool          `json:"improved_answer_helpful,omitempty"`
	LearningStatus        LearningStatus `json:"learning_status"`
	CreatedAt             time.Time      `json:"created_at"`
}

func NewFeedbackDetail(msg *Message, question string, ftype FeedbackType) *FeedbackDetail {
	return &FeedbackDetail{
		ID:               uuid.New().String(),
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		OriginalQuestion: question,
		OriginalAnswer:   msg.Text,
		FeedbackType:     ftype,
		LearningStatus:   LearningPending,
		CreatedAt:        time.Now(),
	}
}

type QueueStatus string

const (
	QueuePending      QueueStatus = "pending"
	QueueApproved     QueueStatus = "approved"
	QueueRejected     QueueStatus = "rejected"
	QueueAutoApproved QueueStatus = "auto_approved"
)

type QueueOrigin string

const (
	QueueFromFeedback  QueueOrigin = "feedback"
	QueueFromRecurring QueueOrigin = "recurring"
	QueueFromTicket    QueueOrigin = "ticket_resolution"
)

// LearningQueueEntry stages a candidate knowledge update awaiting approval.
// An approved or auto-approved entry produces or updates exactly one
// KnowledgeEntry and records the linkage before being marked consumed.
type LearningQueueEntry struct {
	ID          string      `json:"id"`
	Origin      QueueOrigin `json:"origin"`
	FeedbackID  string      `json:"feedback_id,omitempty"`
	Question    string      `json:"question"`
	Answer      string      `json:"answer"`
	Category    string      `json:"category"`
	Confidence  float64     `json:"confidence"`
	Status      QueueStatus `json:"status"`
	KnowledgeID *int64      `json:"knowledge_id,omitempty"`
	Consumed    bool        `json:"consumed"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RecurringQuestion accumulates repeat counts for a normalized question so
// knowledge gaps surface as learning candidates.
type RecurringQuestion struct {
	NormalizedText       string   `json:"normalized_text"`
	Category             string   `json:"category"`
	AskCount             int      `json:"ask_count"`
	Examples             []string `json:"examples"`
	SuccessfulAnswers    []string `json:"successful_answers"`
	LearningPriority     float64  `json:"learning_priority"`
	SuggestedForLearning bool     `json:"suggested_for_learning"`
	// StagedAt is set once the housekeeping job has placed the question
	// in the learning queue; a staged question is never suggested again.
	StagedAt     *time.Time `json:"staged_at,omitempty"`
	FirstAskedAt time.Time  `json:"first_asked_at"`
	LastAskedAt  time.Time  `json:"last_asked_at"`
}
