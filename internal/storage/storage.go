package storage

import (
	"context"
	"errors"
	"time"

	"github.com/starfans/support-engine/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update (status transition,
// consume-once) loses against the current stored state.
var ErrConflict = errors.New("conflicting update")

type Storage interface {
	KnowledgeStore
	ConversationStore
	FeedbackStore
	LearningStore
	RecurringStore
	Close() error
}

// KnowledgeStore persists knowledge entries. Counter updates are atomic on
// the store side so concurrent matches never lose increments.
type KnowledgeStore interface {
	CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error
	GetKnowledgeEntry(ctx context.Context, id int64) (*models.KnowledgeEntry, error)
	FindKnowledgeByPattern(ctx context.Context, pattern string) (*models.KnowledgeEntry, error)
	ListActiveKnowledge(ctx context.Context) ([]*models.KnowledgeEntry, error)
	UpdateKnowledgeAnswer(ctx context.Context, id int64, answer string, confidenceThreshold float64) error
	// RecordKnowledgeUsage bumps usage_count, one of the rated counters and
	// last_used_at in a single statement.
	RecordKnowledgeUsage(ctx context.Context, id int64, success bool) error
	// MarkKnowledgeFailure converts one previously recorded success into a
	// failure after negative feedback.
	MarkKnowledgeFailure(ctx context.Context, id int64) error
	DeactivateKnowledgeEntry(ctx context.Context, id int64) error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// GetActiveConversationByUser returns ErrNotFound when the user has no
	// active conversation.
	GetActiveConversationByUser(ctx context.Context, userID int64) (*models.Conversation, error)
	// CloseConversation transitions an active conversation to a terminal
	// status; it fails with ErrConflict if the conversation is no longer
	// active.
	CloseConversation(ctx context.Context, id string, status models.ConversationStatus, resolution models.ResolutionType, ticketRef string) error
	IncrementFallbackAttempts(ctx context.Context, id string) error
	ListStaleActiveConversations(ctx context.Context, inactiveSince time.Time) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	SetMessageHelpful(ctx context.Context, id string, helpful bool) error
}

type FeedbackStore interface {
	CreateFeedback(ctx context.Context, fb *models.FeedbackDetail) error
	GetFeedback(ctx context.Context, id string) (*models.FeedbackDetail, error)
	UpdateFeedback(ctx context.Context, fb *models.FeedbackDetail) error
}

type LearningStore interface {
	EnqueueLearning(ctx context.Context, entry *models.LearningQueueEntry) error
	GetLearningEntry(ctx context.Context, id string) (*models.LearningQueueEntry, error)
	ListLearningQueue(ctx context.Context, status models.QueueStatus) ([]*models.LearningQueueEntry, error)
	SetLearningStatus(ctx context.Context, id string, status models.QueueStatus) error
	// ConsumeLearningEntry marks an approved entry consumed and records the
	// knowledge entry it produced. Returns ErrConflict when already consumed.
	ConsumeLearningEntry(ctx context.Context, id string, knowledgeID int64) error
}

type RecurringStore interface {
	GetRecurringQuestion(ctx context.Context, normalized string) (*models.RecurringQuestion, error)
	UpsertRecurringQuestion(ctx context.Context, q *models.RecurringQuestion) error
	ListSuggestedRecurring(ctx context.Context) ([]*models.RecurringQuestion, error)
}
