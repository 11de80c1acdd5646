package ticket

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// newRef builds a ticket reference like T-20260901-4F2A.
func newRef(now time.Time) string {
	return fmt.Sprintf("T-%s-%04X", now.Format("20060102"), rand.Intn(0x10000))
}

// TelegramTicketStore delivers escalated tickets to the support team's
// admin chat. The message must be delivered for the ticket to count as
// created; a send failure creates no ticket.
type TelegramTicketStore struct {
	api         *tgbotapi.BotAPI
	adminChatID int64
	logger      *zap.Logger
}

func NewTelegramTicketStore(api *tgbotapi.BotAPI, adminChatID int64, logger *zap.Logger) *TelegramTicketStore {
	return &TelegramTicketStore{api: api, adminChatID: adminChatID, logger: logger}
}

func (s *TelegramTicketStore) CreateTicket(ctx context.Context, subject, description string) (string, error) {
	if s.adminChatID == 0 {
		return "", fmt.Errorf("no admin chat configured for tickets")
	}

	ref := newRef(time.Now())
	text := fmt.Sprintf("🎫 %s\n%s\n\n%s", ref, subject, description)

	msg := tgbotapi.NewMessage(s.adminChatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return "", fmt.Errorf("failed to deliver ticket: %w", err)
	}

	s.logger.Info("Ticket created",
		zap.String("ticket_ref", ref),
		zap.String("subject", subject))
	return ref, nil
}
