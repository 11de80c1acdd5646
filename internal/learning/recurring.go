package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

const (
	maxExamples          = 5
	maxSuccessfulAnswers = 5
	// Matcher score at or above which an existing knowledge entry counts
	// as already covering the question (substring containment or better).
	coverageScoreFloor = 500
)

// Tracker counts repeated generative-path questions so the ones the
// knowledge base keeps missing surface as learning candidates.
type Tracker struct {
	store             storage.RecurringStore
	matcher           *knowledge.Matcher
	learningThreshold int
	logger            *zap.Logger
}

func NewTracker(store storage.RecurringStore, matcher *knowledge.Matcher, learningThreshold int, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:             store,
		matcher:           matcher,
		learningThreshold: learningThreshold,
		logger:            logger,
	}
}

// Track upserts the recurring-question record for one generative turn.
// Re-tracking the same question only increments counters; the
// suggested-for-learning flag flips at most once.
func (t *Tracker) Track(ctx context.Context, question, category string, wasSuccessful bool, generatedAnswer string) error {
	normalized := knowledge.Normalize(question)
	if normalized == "" {
		return nil
	}

	now := time.Now()
	q, err := t.store.GetRecurringQuestion(ctx, normalized)
	if err != nil {
		if err != storage.ErrNotFound {
			return fmt.Errorf("error loading recurring question: %v", err)
		}
		q = &models.RecurringQuestion{
			NormalizedText: normalized,
			Category:       category,
			FirstAskedAt:   now,
		}
	}

	q.AskCount++
	q.LastAskedAt = now
	if category != "" {
		q.Category = category
	}
	q.Examples = appendBounded(q.Examples, question, maxExamples)
	if wasSuccessful && generatedAnswer != "" {
		q.SuccessfulAnswers = appendBounded(q.SuccessfulAnswers, generatedAnswer, maxSuccessfulAnswers)
	}
	q.LearningPriority = learningPriority(q, now)

	if !q.SuggestedForLearning && q.StagedAt == nil && q.AskCount >= t.learningThreshold {
		covered, err := t.alreadyCovered(ctx, normalized)
		if err != nil {
			t.logger.Warn("Coverage check failed",
				zap.Error(err),
				zap.String("question", normalized))
		} else if !covered {
			q.SuggestedForLearning = true
			t.logger.Info("Recurring question suggested for learning",
				zap.String("question", normalized),
				zap.Int("ask_count", q.AskCount))
		}
	}

	if err := t.store.UpsertRecurringQuestion(ctx, q); err != nil {
		return fmt.Errorf("error saving recurring question: %v", err)
	}
	return nil
}

func (t *Tracker) alreadyCovered(ctx context.Context, normalized string) (bool, error) {
	matches, err := t.matcher.Match(ctx, normalized, 1)
	if err != nil {
		return false, err
	}
	return len(matches) > 0 && matches[0].Score >= coverageScoreFloor, nil
}

// learningPriority weights raw frequency by how fresh the question is: a
// burst of asks this week outranks the same count spread over months.
func learningPriority(q *models.RecurringQuestion, now time.Time) float64 {
	ageDays := now.Sub(q.FirstAskedAt).Hours() / 24
	return float64(q.AskCount) / (1 + ageDays/7)
}

func appendBounded(list []string, value string, limit int) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	list = append(list, value)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
