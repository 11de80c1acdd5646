package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

// ErrTicketCreation wraps failures of the external ticketing system. The
// conversation stays active; the caller may retry.
var ErrTicketCreation = errors.New("ticket creation failed")

const subjectMaxLength = 50

// TicketStore is the external ticketing system. A returned error means no
// ticket exists, not a partial one.
type TicketStore interface {
	CreateTicket(ctx context.Context, subject, description string) (string, error)
}

// Escalator converts a conversation into a human-handled ticket. The state
// transition is tied to ticket creation: no ticket, no transition.
type Escalator struct {
	store   storage.ConversationStore
	tickets TicketStore
	logger  *zap.Logger
}

func NewEscalator(store storage.ConversationStore, tickets TicketStore, logger *zap.Logger) *Escalator {
	return &Escalator{store: store, tickets: tickets, logger: logger}
}

func (e *Escalator) Escalate(ctx context.Context, conversationID, additionalContext string) (string, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("error loading conversation: %v", err)
	}
	if conv.Terminal() {
		return "", ErrConversationClosed
	}

	messages, err := e.store.GetMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("error loading transcript: %v", err)
	}

	subject := ticketSubject(messages)
	description := ticketDescription(conv, messages, additionalContext)

	ticketRef, err := e.tickets.CreateTicket(ctx, subject, description)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTicketCreation, err)
	}

	if err := e.store.CloseConversation(ctx, conversationID, models.ConversationEscalated, models.ResolutionEscalated, ticketRef); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return "", ErrConversationClosed
		}
		return "", fmt.Errorf("error marking conversation escalated: %v", err)
	}

	notice := models.NewSystemMessage(conversationID,
		fmt.Sprintf("Dein Anliegen wurde an unser Support-Team übergeben (Ticket %s). Wir melden uns so schnell wie möglich.", ticketRef))
	if err := e.store.AppendMessage(ctx, notice); err != nil {
		e.logger.Error("Failed to append escalation notice",
			zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.String("ticket_ref", ticketRef))
	}

	e.logger.Info("Conversation escalated",
		zap.String("conversation_id", conversationID),
		zap.String("ticket_ref", ticketRef))
	return ticketRef, nil
}

// ticketSubject derives the subject from the first user message, truncated
// to 50 characters plus an ellipsis.
func ticketSubject(messages []*models.Message) string {
	for _, msg := range messages {
		if msg.Sender != models.SenderUser {
			continue
		}
		subject := strings.TrimSpace(msg.Text)
		runes := []rune(subject)
		if len(runes) > subjectMaxLength {
			return string(runes[:subjectMaxLength]) + "..."
		}
		return subject
	}
	return "Support-Anfrage aus Chat"
}

func ticketDescription(conv *models.Conversation, messages []*models.Message, additionalContext string) string {
	var b strings.Builder
	if strings.TrimSpace(additionalContext) != "" {
		b.WriteString(strings.TrimSpace(additionalContext))
		b.WriteString("\n\n")
	}
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]: %s\n\n", strings.ToUpper(string(msg.Sender)), msg.Text)
	}
	fmt.Fprintf(&b, "Conversation: %s\nFallback attempts: %d", conv.ID, conv.FallbackAttemptCount)
	return b.String()
}
