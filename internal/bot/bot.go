package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/starfans/support-engine/internal/engine"
	"github.com/starfans/support-engine/internal/learning"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

type Bot struct {
	api         *tgbotapi.BotAPI
	engine      *engine.Engine
	pipeline    *learning.Pipeline
	storage     storage.Storage
	adminChatID int64
	logger      *zap.Logger
}

func New(api *tgbotapi.BotAPI, eng *engine.Engine, pipeline *learning.Pipeline, store storage.Storage, adminChatID int64, logger *zap.Logger) *Bot {
	return &Bot{
		api:         api,
		engine:      eng,
		pipeline:    pipeline,
		storage:     store,
		adminChatID: adminChatID,
		logger:      logger,
	}
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			go b.handleCallback(update.CallbackQuery)
		case update.Message != nil:
			go b.handleMessage(update.Message)
		}
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	result, err := b.engine.HandleUserTurn(ctx, message.From.ID, message.Text)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyMessage):
			b.sendMessage(message.Chat.ID, "Bitte schreib mir deine Frage als Text.")
		case errors.Is(err, engine.ErrMessageTooLong):
			b.sendMessage(message.Chat.ID, "Deine Nachricht ist leider zu lang. Kannst du sie kürzer fassen?")
		default:
			b.logger.Error("Failed to handle user turn",
				zap.Error(err),
				zap.Int64("user_id", message.From.ID))
			b.sendErrorMessage(message.Chat.ID, "Da ist etwas schiefgelaufen. Versuch es bitte gleich noch einmal.")
		}
		return
	}

	b.sendAnswer(message.Chat.ID, result.Answer)

	if result.Escalated {
		b.sendMessage(message.Chat.ID,
			fmt.Sprintf("Ich habe dein Anliegen an unser Support-Team übergeben (Ticket %s).", result.TicketRef))
	}
}

// sendAnswer delivers an assistant answer with the helpfulness buttons the
// feedback pipeline hangs off of.
func (b *Bot) sendAnswer(chatID int64, answer *models.Message) {
	msg := tgbotapi.NewMessage(chatID, answer.Text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍 Hilfreich", "helpful:"+answer.ID),
			tgbotapi.NewInlineKeyboardButtonData("👎 Nicht hilfreich", "unhelpful:"+answer.ID),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send answer",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "geloest":
		b.handleResolve(ctx, message)
	case "eskalieren":
		b.handleEscalate(ctx, message)
	case "review":
		b.handleReview(ctx, message)
	case "approve":
		b.handleApprove(ctx, message)
	case "reject":
		b.handleReject(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unbekannter Befehl. Mit /help siehst du alle Befehle.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hallo! 👋 Ich bin der Support-Assistent.

Stell mir einfach deine Frage, ich antworte sofort.
Wenn ich nicht weiterweiß, übergebe ich dein Anliegen an unser Team.

/help zeigt dir alle Befehle.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Verfügbare Befehle:
/start - Bot starten
/help - Diese Hilfe anzeigen
/geloest - Dein Anliegen als gelöst markieren
/eskalieren - Dein Anliegen an das Support-Team übergeben

Schreib mir einfach deine Frage als normale Nachricht.
Unter jeder Antwort kannst du bewerten, ob sie hilfreich war.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleResolve(ctx context.Context, message *tgbotapi.Message) {
	conv, err := b.storage.GetActiveConversationByUser(ctx, message.From.ID)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Du hast gerade keine offene Unterhaltung.")
		return
	}
	if err := b.engine.Resolve(ctx, conv.ID); err != nil {
		b.logger.Error("Failed to resolve conversation",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
		b.sendErrorMessage(message.Chat.ID, "Das hat leider nicht geklappt. Versuch es bitte noch einmal.")
		return
	}
	b.sendMessage(message.Chat.ID, "Schön, dass ich helfen konnte! 🎉 Bei neuen Fragen schreib mir einfach wieder.")
}

func (b *Bot) handleEscalate(ctx context.Context, message *tgbotapi.Message) {
	conv, err := b.storage.GetActiveConversationByUser(ctx, message.From.ID)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Du hast gerade keine offene Unterhaltung. Stell mir zuerst deine Frage.")
		return
	}

	extra := strings.TrimSpace(message.CommandArguments())
	ticketRef, err := b.engine.Escalate(ctx, conv.ID, extra)
	if err != nil {
		if errors.Is(err, engine.ErrTicketCreation) {
			b.sendErrorMessage(message.Chat.ID, "Die Übergabe an das Support-Team hat nicht geklappt. Versuch es bitte gleich noch einmal.")
			return
		}
		b.logger.Error("Escalation failed",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
		b.sendErrorMessage(message.Chat.ID, "Das hat leider nicht geklappt.")
		return
	}
	b.sendMessage(message.Chat.ID,
		fmt.Sprintf("Dein Anliegen wurde an unser Support-Team übergeben (Ticket %s).", ticketRef))
}

// Admin commands operate on the learning review queue and only work in the
// admin chat.

func (b *Bot) handleReview(ctx context.Context, message *tgbotapi.Message) {
	if !b.isAdminChat(message) {
		return
	}

	pending, err := b.storage.ListLearningQueue(ctx, models.QueuePending)
	if err != nil {
		b.logger.Error("Failed to list learning queue", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Konnte die Warteschlange nicht laden.")
		return
	}
	if len(pending) == 0 {
		b.sendMessage(message.Chat.ID, "Keine offenen Lernvorschläge. 👌")
		return
	}

	var sb strings.Builder
	sb.WriteString("Offene Lernvorschläge:\n\n")
	for _, entry := range pending {
		fmt.Fprintf(&sb, "• %s\nFrage: %s\nAntwort: %s\n/approve %s oder /reject %s\n\n",
			entry.Origin, entry.Question, truncate(entry.Answer, 200), entry.ID, entry.ID)
	}
	b.sendMessage(message.Chat.ID, sb.String())
}

func (b *Bot) handleApprove(ctx context.Context, message *tgbotapi.Message) {
	if !b.isAdminChat(message) {
		return
	}
	id := strings.TrimSpace(message.CommandArguments())
	if id == "" {
		b.sendMessage(message.Chat.ID, "Nutzung: /approve <id>")
		return
	}
	if err := b.pipeline.Approve(ctx, id); err != nil {
		b.logger.Error("Approve failed", zap.Error(err), zap.String("queue_id", id))
		b.sendErrorMessage(message.Chat.ID, "Freigabe fehlgeschlagen: "+err.Error())
		return
	}
	b.sendMessage(message.Chat.ID, "Freigegeben und in die Wissensbasis übernommen. ✅")
}

func (b *Bot) handleReject(ctx context.Context, message *tgbotapi.Message) {
	if !b.isAdminChat(message) {
		return
	}
	id := strings.TrimSpace(message.CommandArguments())
	if id == "" {
		b.sendMessage(message.Chat.ID, "Nutzung: /reject <id>")
		return
	}
	if err := b.pipeline.Reject(ctx, id); err != nil {
		b.logger.Error("Reject failed", zap.Error(err), zap.String("queue_id", id))
		b.sendErrorMessage(message.Chat.ID, "Ablehnen fehlgeschlagen: "+err.Error())
		return
	}
	b.sendMessage(message.Chat.ID, "Vorschlag abgelehnt.")
}

func (b *Bot) isAdminChat(message *tgbotapi.Message) bool {
	return b.adminChatID != 0 && message.Chat.ID == b.adminChatID
}

// Callback queries drive the feedback flow: rate answer → pick what was
// wrong → rate the improved answer.

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()
	parts := strings.SplitN(query.Data, ":", 3)
	chatID, ok := callbackChatID(query)
	if !ok {
		b.logger.Warn("Callback without accessible message", zap.String("data", query.Data))
		b.answerCallback(query.ID, "")
		return
	}

	switch parts[0] {
	case "helpful":
		if len(parts) != 2 {
			break
		}
		if err := b.storage.SetMessageHelpful(ctx, parts[1], true); err != nil {
			b.logger.Error("Failed to record positive feedback",
				zap.Error(err),
				zap.String("message_id", parts[1]))
		}
		b.answerCallback(query.ID, "Danke für dein Feedback! 😊")
	case "unhelpful":
		if len(parts) != 2 {
			break
		}
		b.askFeedbackType(chatID, parts[1])
		b.answerCallback(query.ID, "")
	case "fb":
		if len(parts) != 3 {
			break
		}
		b.recordFeedbackAndRetry(ctx, chatID, models.FeedbackType(parts[1]), parts[2])
		b.answerCallback(query.ID, "")
	case "imp":
		if len(parts) != 3 {
			break
		}
		b.rateImprovedAnswer(ctx, chatID, parts[1] == "yes", parts[2])
		b.answerCallback(query.ID, "Danke für dein Feedback!")
	}
}

// callbackChatID resolves the chat a callback belongs to. Telegram omits
// the message for callbacks on messages too old to be accessible.
func callbackChatID(query *tgbotapi.CallbackQuery) (int64, bool) {
	if query.Message == nil || query.Message.Chat == nil {
		return 0, false
	}
	return query.Message.Chat.ID, true
}

func (b *Bot) askFeedbackType(chatID int64, messageID string) {
	msg := tgbotapi.NewMessage(chatID, "Schade! Was war das Problem mit der Antwort?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Falsch", "fb:incorrect:"+messageID),
			tgbotapi.NewInlineKeyboardButtonData("Unvollständig", "fb:incomplete:"+messageID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Unverständlich", "fb:unclear:"+messageID),
			tgbotapi.NewInlineKeyboardButtonData("Veraltet", "fb:outdated:"+messageID),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send feedback prompt",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) recordFeedbackAndRetry(ctx context.Context, chatID int64, ftype models.FeedbackType, messageID string) {
	fb, err := b.pipeline.RecordNegativeFeedback(ctx, messageID, ftype, "", "")
	if errors.Is(err, learning.ErrInvalidFeedback) {
		b.sendMessage(chatID, "Dein Feedback zu dieser Antwort ist bereits erfasst.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to record feedback",
			zap.Error(err),
			zap.String("message_id", messageID))
		b.sendErrorMessage(chatID, "Dein Feedback konnte nicht gespeichert werden.")
		return
	}

	improved, err := b.pipeline.RegenerateAnswer(ctx, fb.ID)
	if err != nil {
		b.logger.Warn("Failed to regenerate answer",
			zap.Error(err),
			zap.String("feedback_id", fb.ID))
		b.sendMessage(chatID, "Danke für dein Feedback! Mit /eskalieren erreichst du unser Support-Team.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, "Versuchen wir es noch einmal:\n\n"+improved.Text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍 Jetzt passt es", "imp:yes:"+fb.ID),
			tgbotapi.NewInlineKeyboardButtonData("👎 Immer noch nicht", "imp:no:"+fb.ID),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send improved answer",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) rateImprovedAnswer(ctx context.Context, chatID int64, helpful bool, feedbackID string) {
	if err := b.pipeline.MarkImprovedAnswerHelpful(ctx, feedbackID, helpful); err != nil {
		b.logger.Error("Failed to rate improved answer",
			zap.Error(err),
			zap.String("feedback_id", feedbackID))
		return
	}
	if !helpful {
		b.sendMessage(chatID, "Das tut mir leid. Mit /eskalieren übergebe ich dein Anliegen an unser Support-Team.")
	}
}

func (b *Bot) answerCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error("Failed to answer callback", zap.Error(err))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
