package engine

import (
	"context"
	"strings"
	"time"

	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/responder"
	"go.uber.org/zap"
)

// Success rate (0-100 scale) a top match must exceed before its stored
// answer is served directly. Strictly greater than: 70.0 exactly still
// goes to the generative path.
const knowledgeSuccessFloor = 70.0

const (
	fallbackConfidence   = 0.3
	lowConfidenceFloor   = 0.5
	trackSuccessFloor    = 0.7
	historyWindow        = 6
	usageTrackingTimeout = 5 * time.Second
)

const clarifyingPrompt = "War diese Antwort hilfreich? Wenn nicht, formuliere deine Frage gerne anders."

// Canned replies for turns the generative backend could not answer,
// indexed by the conversation's fallback attempt count and clamped at the
// last entry.
var fallbackResponses = []string{
	"Das habe ich leider nicht ganz verstanden. Kannst du deine Frage anders formulieren?",
	"Ich bin mir nicht sicher, was du meinst. Beschreibe dein Anliegen bitte etwas genauer.",
	"Ich konnte dazu leider nichts finden. Du kannst dein Anliegen mit /eskalieren an unser Support-Team weitergeben.",
}

// Decision is the gate's answer for one user turn.
type Decision struct {
	Text        string
	Confidence  float64
	Source      models.AnswerSource
	KnowledgeID *int64
}

// QuestionTracker receives generative turns so repeated unanswered
// questions surface as learning candidates.
type QuestionTracker interface {
	Track(ctx context.Context, question, category string, wasSuccessful bool, generatedAnswer string) error
}

// UsageRecorder is the write side of the knowledge store; the gate only
// ever touches it fire-and-forget.
type UsageRecorder interface {
	RecordKnowledgeUsage(ctx context.Context, id int64, success bool) error
}

// Gate decides, per user turn, whether to answer from the knowledge base,
// from the generative backend, or with a canned low-confidence reply.
type Gate struct {
	matcher   *knowledge.Matcher
	responder responder.Responder
	usage     UsageRecorder
	tracker   QuestionTracker
	logger    *zap.Logger
}

func NewGate(matcher *knowledge.Matcher, resp responder.Responder, usage UsageRecorder, tracker QuestionTracker, logger *zap.Logger) *Gate {
	return &Gate{
		matcher:   matcher,
		responder: resp,
		usage:     usage,
		tracker:   tracker,
		logger:    logger,
	}
}

func (g *Gate) Decide(ctx context.Context, conv *models.Conversation, history []*models.Message, userMessage string) Decision {
	matches, err := g.matcher.Match(ctx, userMessage, 3)
	if err != nil {
		g.logger.Error("Knowledge matching failed",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
	}

	if len(matches) > 0 {
		top := matches[0].Entry
		if top.SuccessRate() > knowledgeSuccessFloor {
			return g.answerFromKnowledge(conv, top)
		}
	}

	return g.answerGenerative(ctx, conv, history, userMessage)
}

func (g *Gate) answerFromKnowledge(conv *models.Conversation, entry *models.KnowledgeEntry) Decision {
	// The answer is already decided; tracking must never delay or fail it.
	go func(id int64) {
		ctx, cancel := context.WithTimeout(context.Background(), usageTrackingTimeout)
		defer cancel()
		if err := g.usage.RecordKnowledgeUsage(ctx, id, true); err != nil {
			g.logger.Warn("Usage tracking failed",
				zap.Error(err),
				zap.Int64("knowledge_id", id))
		}
	}(entry.ID)

	text := entry.Answer
	confidence := entry.ConfidenceThreshold
	if confidence < lowConfidenceFloor {
		text += "\n\n" + clarifyingPrompt
	}

	id := entry.ID
	return Decision{
		Text:        text,
		Confidence:  confidence,
		Source:      models.AnswerFromKnowledgeBase,
		KnowledgeID: &id,
	}
}

func (g *Gate) answerGenerative(ctx context.Context, conv *models.Conversation, history []*models.Message, userMessage string) Decision {
	reply, err := g.responder.Generate(ctx, responder.Request{
		ConversationID: conv.ID,
		UserMessage:    userMessage,
		History:        historyTurns(history),
	})
	if err != nil || reply.Fallback {
		if err != nil {
			g.logger.Warn("Generative responder unavailable, using canned response",
				zap.Error(err),
				zap.String("conversation_id", conv.ID))
		}
		return Decision{
			Text:       cannedResponse(conv.FallbackAttemptCount),
			Confidence: fallbackConfidence,
			Source:     models.AnswerFromFallback,
		}
	}

	if err := g.tracker.Track(ctx, userMessage, "", reply.Confidence > trackSuccessFloor, reply.Response); err != nil {
		g.logger.Warn("Recurring question tracking failed",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
	}

	return Decision{
		Text:       reply.Response,
		Confidence: reply.Confidence,
		Source:     models.AnswerFromGenerative,
	}
}

// historyTurns converts the last turns of the transcript into responder
// history, dropping system messages and keeping at most historyWindow turns.
func historyTurns(history []*models.Message) []responder.HistoryTurn {
	var turns []responder.HistoryTurn
	for _, msg := range history {
		if msg.Sender == models.SenderSystem {
			continue
		}
		role := responder.RoleUser
		if msg.Sender == models.SenderAI {
			role = responder.RoleAssistant
		}
		turns = append(turns, responder.HistoryTurn{Role: role, Content: msg.Text})
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	return turns
}

func cannedResponse(fallbackAttempts int) string {
	idx := fallbackAttempts
	if idx >= len(fallbackResponses) {
		idx = len(fallbackResponses) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return strings.TrimSpace(fallbackResponses[idx])
}
