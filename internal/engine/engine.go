package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage       = errors.New("message is empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrConversationClosed = errors.New("conversation is closed")
)

const maxMessageLength = 4000

type Config struct {
	// StalenessWindow is the age after which an "active" conversation is
	// force-closed instead of reused.
	StalenessWindow time.Duration
	// InactivityTimeout is how long a conversation may sit without a turn
	// before the sweep closes it.
	InactivityTimeout time.Duration
	// FallbackCeiling is the number of canned-fallback turns after which
	// the conversation escalates on its own.
	FallbackCeiling int
}

func DefaultConfig() Config {
	return Config{
		StalenessWindow:   24 * time.Hour,
		InactivityTimeout: 30 * time.Minute,
		FallbackCeiling:   5,
	}
}

// Engine owns the conversation state machine and drives the gate for every
// inbound user turn. Turns against the same conversation are serialized
// with a per-conversation lock so transcripts never interleave.
type Engine struct {
	store     storage.ConversationStore
	gate      *Gate
	escalator *Escalator
	config    Config
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store storage.ConversationStore, gate *Gate, escalator *Escalator, config Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		gate:      gate,
		escalator: escalator,
		config:    config,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(conversationID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, exists := e.locks[conversationID]
	if !exists {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}

// dropLock evicts a terminal conversation's mutex so the map does not grow
// without bound. Turns that raced the close still fail the terminal check
// after reloading the conversation.
func (e *Engine) dropLock(conversationID string) {
	e.mu.Lock()
	delete(e.locks, conversationID)
	e.mu.Unlock()
}

// EnsureConversation returns the user's active conversation, or a fresh one
// when none exists. An active conversation older than the staleness window
// is force-closed as abandoned/timeout first; its history stays intact.
func (e *Engine) EnsureConversation(ctx context.Context, userID int64) (*models.Conversation, error) {
	conv, err := e.store.GetActiveConversationByUser(ctx, userID)
	switch {
	case err == nil:
		if time.Since(conv.StartedAt) <= e.config.StalenessWindow {
			return conv, nil
		}
		if err := e.store.CloseConversation(ctx, conv.ID, models.ConversationAbandoned, models.ResolutionTimeout, ""); err != nil && !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("error closing stale conversation: %v", err)
		}
		e.dropLock(conv.ID)
		e.logger.Info("Force-closed stale conversation",
			zap.String("conversation_id", conv.ID),
			zap.Int64("user_id", userID))
	case errors.Is(err, storage.ErrNotFound):
		// fall through to create
	default:
		return nil, fmt.Errorf("error looking up conversation: %v", err)
	}

	conv = models.NewConversation(userID)
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("error creating conversation: %v", err)
	}
	return conv, nil
}

// TurnResult reports what one user turn produced.
type TurnResult struct {
	Conversation *models.Conversation
	UserMessage  *models.Message
	Answer       *models.Message
	// Escalated is set when this turn pushed the conversation over the
	// fallback ceiling and a ticket was created.
	Escalated bool
	TicketRef string
}

// HandleUserTurn appends the user message, asks the gate for an answer,
// appends the answer and applies the fallback-ceiling escalation rule.
func (e *Engine) HandleUserTurn(ctx context.Context, userID int64, text string) (*TurnResult, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	if len(trimmed) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	conv, err := e.EnsureConversation(ctx, userID)
	if err != nil {
		return nil, err
	}

	lock := e.lockFor(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent turn may have closed it.
	conv, err = e.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("error reloading conversation: %v", err)
	}
	if conv.Terminal() {
		return nil, ErrConversationClosed
	}

	history, err := e.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading history: %v", err)
	}

	userMsg := models.NewUserMessage(conv.ID, trimmed)
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("error appending user message: %v", err)
	}

	decision := e.gate.Decide(ctx, conv, history, trimmed)

	answer := models.NewAIMessage(conv.ID, decision.Text, decision.Confidence, decision.Source, decision.KnowledgeID)
	if err := e.store.AppendMessage(ctx, answer); err != nil {
		return nil, fmt.Errorf("error appending answer: %v", err)
	}

	result := &TurnResult{Conversation: conv, UserMessage: userMsg, Answer: answer}

	if decision.Source == models.AnswerFromFallback {
		if err := e.store.IncrementFallbackAttempts(ctx, conv.ID); err != nil {
			e.logger.Error("Failed to increment fallback attempts",
				zap.Error(err),
				zap.String("conversation_id", conv.ID))
		}
		conv.FallbackAttemptCount++
		if conv.FallbackAttemptCount > e.config.FallbackCeiling {
			ticketRef, err := e.escalator.Escalate(ctx, conv.ID, "Automatisch eskaliert: zu viele erfolglose Antwortversuche.")
			if err != nil {
				// Retryable: the next fallback turn triggers escalation again.
				e.logger.Error("Automatic escalation failed",
					zap.Error(err),
					zap.String("conversation_id", conv.ID))
			} else {
				result.Escalated = true
				result.TicketRef = ticketRef
				e.dropLock(conv.ID)
			}
		}
	}

	return result, nil
}

// Resolve ends an active conversation after an explicit satisfaction signal.
func (e *Engine) Resolve(ctx context.Context, conversationID string) error {
	lock := e.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	err := e.store.CloseConversation(ctx, conversationID, models.ConversationResolved, models.ResolutionAIResolved, "")
	if errors.Is(err, storage.ErrConflict) {
		e.dropLock(conversationID)
		return ErrConversationClosed
	}
	if err == nil {
		e.dropLock(conversationID)
	}
	return err
}

// Escalate hands an active conversation to the escalation manager on an
// explicit user request.
func (e *Engine) Escalate(ctx context.Context, conversationID, additionalContext string) (string, error) {
	lock := e.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	ticketRef, err := e.escalator.Escalate(ctx, conversationID, additionalContext)
	if err == nil {
		e.dropLock(conversationID)
	}
	return ticketRef, err
}

// SweepInactive closes conversations without a turn since the inactivity
// timeout. Conversations that were already struggling (at least one
// fallback turn) escalate so a human picks them up; the rest are marked
// abandoned. Idempotent, safe to run on any cadence.
func (e *Engine) SweepInactive(ctx context.Context) error {
	cutoff := time.Now().Add(-e.config.InactivityTimeout)
	stale, err := e.store.ListStaleActiveConversations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("error listing stale conversations: %v", err)
	}

	for _, conv := range stale {
		if conv.FallbackAttemptCount > 0 {
			if _, err := e.escalator.Escalate(ctx, conv.ID, "Automatisch eskaliert: Unterhaltung ohne Lösung ausgelaufen."); err != nil {
				e.logger.Error("Timeout escalation failed",
					zap.Error(err),
					zap.String("conversation_id", conv.ID))
			} else {
				e.dropLock(conv.ID)
			}
			continue
		}
		err := e.store.CloseConversation(ctx, conv.ID, models.ConversationAbandoned, models.ResolutionUserLeft, "")
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			e.logger.Error("Failed to close inactive conversation",
				zap.Error(err),
				zap.String("conversation_id", conv.ID))
			continue
		}
		e.dropLock(conv.ID)
	}
	return nil
}
