package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/responder"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrInvalidFeedback = errors.New("invalid feedback")
	ErrNotApproved     = errors.New("learning entry is not approved")
)

const (
	learnedConfidenceThreshold = 0.8
	regenerateTimeout          = 30 * time.Second
)

// Store is the slice of storage the pipeline needs.
type Store interface {
	storage.ConversationStore
	storage.FeedbackStore
	storage.LearningStore
	storage.KnowledgeStore
}

// Pipeline turns negative feedback into improved answers and, through the
// learning queue, into new or updated knowledge entries.
type Pipeline struct {
	store       Store
	responder   responder.Responder
	autoApprove bool
	logger      *zap.Logger
}

func NewPipeline(store Store, resp responder.Responder, autoApprove bool, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		responder:   resp,
		autoApprove: autoApprove,
		logger:      logger,
	}
}

// RecordNegativeFeedback files feedback against an ai message, marks the
// message unhelpful and charges the failure to the knowledge entry the
// answer came from.
func (p *Pipeline) RecordNegativeFeedback(ctx context.Context, messageID string, ftype models.FeedbackType, text, correctAnswer string) (*models.FeedbackDetail, error) {
	if !validFeedbackType(ftype) {
		return nil, fmt.Errorf("%w: unknown feedback type %q", ErrInvalidFeedback, ftype)
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("error loading message: %v", err)
	}
	if msg.Sender != models.SenderAI {
		return nil, fmt.Errorf("%w: feedback target is not an assistant message", ErrInvalidFeedback)
	}
	// A second filing would charge the knowledge entry twice.
	if msg.WasHelpful != nil && !*msg.WasHelpful {
		return nil, fmt.Errorf("%w: feedback already recorded for this answer", ErrInvalidFeedback)
	}

	question, err := p.originalQuestion(ctx, msg)
	if err != nil {
		return nil, err
	}

	fb := models.NewFeedbackDetail(msg, question, ftype)
	fb.FeedbackText = strings.TrimSpace(text)
	fb.UserCorrectAnswer = strings.TrimSpace(correctAnswer)

	if err := p.store.CreateFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("error creating feedback: %v", err)
	}

	if err := p.store.SetMessageHelpful(ctx, msg.ID, false); err != nil {
		p.logger.Error("Failed to mark message unhelpful",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	}

	if msg.Source == models.AnswerFromKnowledgeBase && msg.KnowledgeID != nil {
		if err := p.store.MarkKnowledgeFailure(ctx, *msg.KnowledgeID); err != nil {
			p.logger.Error("Failed to record knowledge failure",
				zap.Error(err),
				zap.Int64("knowledge_id", *msg.KnowledgeID))
		}
	}

	return fb, nil
}

// RegenerateAnswer asks the generative backend for an improved answer that
// takes the feedback into account and appends it to the conversation.
func (p *Pipeline) RegenerateAnswer(ctx context.Context, feedbackID string) (*models.Message, error) {
	fb, err := p.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("error loading feedback: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, regenerateTimeout)
	defer cancel()

	reply, err := p.responder.Generate(ctx, responder.Request{
		ConversationID: fb.ConversationID,
		UserMessage:    improvementPrompt(fb),
	})
	if err != nil {
		return nil, fmt.Errorf("error regenerating answer: %v", err)
	}
	if reply.Fallback || strings.TrimSpace(reply.Response) == "" {
		return nil, fmt.Errorf("generative backend produced no improved answer")
	}

	improved := models.NewAIMessage(fb.ConversationID, reply.Response, reply.Confidence, models.AnswerFromFeedback, nil)
	if err := p.store.AppendMessage(ctx, improved); err != nil {
		return nil, fmt.Errorf("error appending improved answer: %v", err)
	}

	fb.RetryAttempted = true
	fb.ImprovedAnswer = reply.Response
	if err := p.store.UpdateFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("error linking improved answer: %v", err)
	}
	return improved, nil
}

// MarkImprovedAnswerHelpful records the user's verdict on an improved
// answer. A positive verdict stages the correction in the learning queue;
// with auto-approval enabled it becomes live knowledge immediately.
func (p *Pipeline) MarkImprovedAnswerHelpful(ctx context.Context, feedbackID string, helpful bool) error {
	fb, err := p.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return fmt.Errorf("error loading feedback: %v", err)
	}
	if !fb.RetryAttempted || fb.ImprovedAnswer == "" {
		return fmt.Errorf("%w: no improved answer to rate", ErrInvalidFeedback)
	}

	fb.ImprovedAnswerHelpful = &helpful
	if !helpful {
		if err := p.store.UpdateFeedback(ctx, fb); err != nil {
			return fmt.Errorf("error updating feedback: %v", err)
		}
		return nil
	}

	entry := &models.LearningQueueEntry{
		ID:         uuid.New().String(),
		Origin:     models.QueueFromFeedback,
		FeedbackID: fb.ID,
		Question:   fb.OriginalQuestion,
		Answer:     fb.ImprovedAnswer,
		Confidence: learnedConfidenceThreshold,
		Status:     models.QueuePending,
		CreatedAt:  time.Now(),
	}
	if p.autoApprove {
		entry.Status = models.QueueAutoApproved
	}
	if err := p.store.EnqueueLearning(ctx, entry); err != nil {
		return fmt.Errorf("error enqueueing learning entry: %v", err)
	}

	if p.autoApprove {
		if err := p.Promote(ctx, entry.ID); err != nil {
			return err
		}
		fb.LearningStatus = models.LearningAutoLearned
	} else {
		fb.LearningStatus = models.LearningPending
	}

	if err := p.store.UpdateFeedback(ctx, fb); err != nil {
		return fmt.Errorf("error updating feedback: %v", err)
	}
	return nil
}

// Approve moves a pending queue entry to approved and promotes it.
func (p *Pipeline) Approve(ctx context.Context, queueID string) error {
	if err := p.store.SetLearningStatus(ctx, queueID, models.QueueApproved); err != nil {
		return fmt.Errorf("error approving learning entry: %v", err)
	}
	if err := p.Promote(ctx, queueID); err != nil {
		return err
	}
	return p.markFeedbackStatus(ctx, queueID, models.LearningLearned)
}

// Reject drops a pending queue entry without a knowledge write.
func (p *Pipeline) Reject(ctx context.Context, queueID string) error {
	if err := p.store.SetLearningStatus(ctx, queueID, models.QueueRejected); err != nil {
		return fmt.Errorf("error rejecting learning entry: %v", err)
	}
	return p.markFeedbackStatus(ctx, queueID, models.LearningRejected)
}

// Promote writes an approved queue entry into the knowledge base. Exactly
// one entry is created or updated; re-promoting a consumed entry is a
// no-op, so a retried approval never duplicates knowledge.
func (p *Pipeline) Promote(ctx context.Context, queueID string) error {
	entry, err := p.store.GetLearningEntry(ctx, queueID)
	if err != nil {
		return fmt.Errorf("error loading learning entry: %v", err)
	}
	if entry.Status != models.QueueApproved && entry.Status != models.QueueAutoApproved {
		return ErrNotApproved
	}
	if entry.Consumed {
		return nil
	}

	pattern := knowledge.Normalize(entry.Question)
	if pattern == "" {
		return fmt.Errorf("%w: empty question pattern", ErrInvalidFeedback)
	}

	var knowledgeID int64
	existing, err := p.store.FindKnowledgeByPattern(ctx, pattern)
	switch {
	case err == nil:
		if err := p.store.UpdateKnowledgeAnswer(ctx, existing.ID, entry.Answer, entry.Confidence); err != nil {
			return fmt.Errorf("error updating knowledge entry: %v", err)
		}
		knowledgeID = existing.ID
	case errors.Is(err, storage.ErrNotFound):
		created := &models.KnowledgeEntry{
			Pattern:             pattern,
			Answer:              entry.Answer,
			Category:            entry.Category,
			Keywords:            knowledge.Keywords(entry.Question),
			Source:              models.SourceChatLearning,
			ConfidenceThreshold: entry.Confidence,
			IsActive:            true,
			Language:            "de",
		}
		if err := p.store.CreateKnowledgeEntry(ctx, created); err != nil {
			return fmt.Errorf("error creating knowledge entry: %v", err)
		}
		knowledgeID = created.ID
	default:
		return fmt.Errorf("error looking up knowledge pattern: %v", err)
	}

	if err := p.store.ConsumeLearningEntry(ctx, queueID, knowledgeID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return fmt.Errorf("error consuming learning entry: %v", err)
	}

	p.logger.Info("Learning entry promoted",
		zap.String("queue_id", queueID),
		zap.Int64("knowledge_id", knowledgeID),
		zap.String("origin", string(entry.Origin)))
	return nil
}

func (p *Pipeline) markFeedbackStatus(ctx context.Context, queueID string, status models.LearningStatus) error {
	entry, err := p.store.GetLearningEntry(ctx, queueID)
	if err != nil || entry.FeedbackID == "" {
		return nil
	}
	fb, err := p.store.GetFeedback(ctx, entry.FeedbackID)
	if err != nil {
		return nil
	}
	fb.LearningStatus = status
	if err := p.store.UpdateFeedback(ctx, fb); err != nil {
		p.logger.Error("Failed to update feedback status",
			zap.Error(err),
			zap.String("feedback_id", fb.ID))
	}
	return nil
}

// originalQuestion walks the transcript backwards from the critiqued
// answer to the user turn that caused it.
func (p *Pipeline) originalQuestion(ctx context.Context, msg *models.Message) (string, error) {
	messages, err := p.store.GetMessages(ctx, msg.ConversationID)
	if err != nil {
		return "", fmt.Errorf("error loading transcript: %v", err)
	}
	question := ""
	for _, m := range messages {
		if m.ID == msg.ID {
			break
		}
		if m.Sender == models.SenderUser {
			question = m.Text
		}
	}
	if question == "" {
		return "", fmt.Errorf("%w: no user question precedes the answer", ErrInvalidFeedback)
	}
	return question, nil
}

func improvementPrompt(fb *models.FeedbackDetail) string {
	var b strings.Builder
	b.WriteString("A support answer was rated unhelpful. Write an improved answer.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", fb.OriginalQuestion)
	fmt.Fprintf(&b, "Previous answer: %s\n", fb.OriginalAnswer)
	fmt.Fprintf(&b, "What was wrong: %s", fb.FeedbackType)
	if fb.FeedbackText != "" {
		fmt.Fprintf(&b, " - %s", fb.FeedbackText)
	}
	b.WriteString("\n")
	if fb.UserCorrectAnswer != "" {
		fmt.Fprintf(&b, "The user suggests this correct answer: %s\n", fb.UserCorrectAnswer)
	}
	return b.String()
}

func validFeedbackType(ftype models.FeedbackType) bool {
	switch ftype {
	case models.FeedbackIncorrect, models.FeedbackIncomplete, models.FeedbackUnclear, models.FeedbackOutdated, models.FeedbackOther:
		return true
	}
	return false
}
