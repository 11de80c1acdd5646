package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

type HousekeepingConfig struct {
	// Schedule is a standard 5-field cron expression. Empty disables the
	// scheduler.
	Schedule string
	// DeactivationFloor is the success-rate percentage below which an
	// entry with enough rated uses is switched off.
	DeactivationFloor float64
	// MinRatedUses is how many rated uses an entry needs before the floor
	// applies.
	MinRatedUses int
}

func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		Schedule:          "0 4 * * *",
		DeactivationFloor: 20,
		MinRatedUses:      5,
	}
}

// Sweeper is any additional idempotent job the scheduler should run each
// cycle, such as the conversation inactivity sweep.
type Sweeper interface {
	SweepInactive(ctx context.Context) error
}

// Housekeeper runs the out-of-band batch jobs: deactivating low-performing
// knowledge, promoting recurring questions into the learning queue and
// sweeping inactive conversations. Every job is idempotent and safe to run
// on any cadence.
type Housekeeper struct {
	store    Store
	recurs   storage.RecurringStore
	pipeline *Pipeline
	sweeper  Sweeper
	config   HousekeepingConfig
	logger   *zap.Logger
}

func NewHousekeeper(store Store, recurs storage.RecurringStore, pipeline *Pipeline, sweeper Sweeper, config HousekeepingConfig, logger *zap.Logger) *Housekeeper {
	return &Housekeeper{
		store:    store,
		recurs:   recurs,
		pipeline: pipeline,
		sweeper:  sweeper,
		config:   config,
		logger:   logger,
	}
}

// DeactivateLowPerformers switches off entries whose success rate sits
// persistently below the floor. Entries are never deleted.
func (h *Housekeeper) DeactivateLowPerformers(ctx context.Context) error {
	entries, err := h.store.ListActiveKnowledge(ctx)
	if err != nil {
		return fmt.Errorf("error listing knowledge: %v", err)
	}

	for _, entry := range entries {
		rated := entry.SuccessCount + entry.FailureCount
		if rated < h.config.MinRatedUses || entry.SuccessRate() >= h.config.DeactivationFloor {
			continue
		}
		if err := h.store.DeactivateKnowledgeEntry(ctx, entry.ID); err != nil {
			h.logger.Error("Failed to deactivate knowledge entry",
				zap.Error(err),
				zap.Int64("knowledge_id", entry.ID))
			continue
		}
		h.logger.Info("Deactivated low-performing knowledge entry",
			zap.Int64("knowledge_id", entry.ID),
			zap.Float64("success_rate", entry.SuccessRate()))
	}
	return nil
}

// PromoteRecurring stages suggested recurring questions that already have
// a proven generative answer in the learning queue. A question is staged
// at most once: the suggestion flag is cleared and staged_at recorded on
// enqueue, so a later rejection in review does not bring it back.
func (h *Housekeeper) PromoteRecurring(ctx context.Context) error {
	suggested, err := h.recurs.ListSuggestedRecurring(ctx)
	if err != nil {
		return fmt.Errorf("error listing suggested questions: %v", err)
	}
	if len(suggested) == 0 {
		return nil
	}

	pending, err := h.store.ListLearningQueue(ctx, models.QueuePending)
	if err != nil {
		return fmt.Errorf("error listing learning queue: %v", err)
	}
	queued := make(map[string]bool, len(pending))
	for _, entry := range pending {
		queued[knowledge.Normalize(entry.Question)] = true
	}

	for _, q := range suggested {
		if len(q.SuccessfulAnswers) == 0 || q.StagedAt != nil || queued[q.NormalizedText] {
			continue
		}
		entry := &models.LearningQueueEntry{
			ID:         uuid.New().String(),
			Origin:     models.QueueFromRecurring,
			Question:   q.NormalizedText,
			Answer:     q.SuccessfulAnswers[len(q.SuccessfulAnswers)-1],
			Category:   q.Category,
			Confidence: learnedConfidenceThreshold,
			Status:     models.QueuePending,
			CreatedAt:  time.Now(),
		}
		if err := h.store.EnqueueLearning(ctx, entry); err != nil {
			h.logger.Error("Failed to enqueue recurring question",
				zap.Error(err),
				zap.String("question", q.NormalizedText))
			continue
		}

		now := time.Now()
		q.SuggestedForLearning = false
		q.StagedAt = &now
		if err := h.recurs.UpsertRecurringQuestion(ctx, q); err != nil {
			h.logger.Error("Failed to mark recurring question staged",
				zap.Error(err),
				zap.String("question", q.NormalizedText))
		}
		h.logger.Info("Recurring question staged for review",
			zap.String("question", q.NormalizedText),
			zap.Int("ask_count", q.AskCount))
	}
	return nil
}

func (h *Housekeeper) runOnce(ctx context.Context) {
	if err := h.DeactivateLowPerformers(ctx); err != nil {
		h.logger.Error("Knowledge deactivation run failed", zap.Error(err))
	}
	if err := h.PromoteRecurring(ctx); err != nil {
		h.logger.Error("Recurring promotion run failed", zap.Error(err))
	}
	if h.sweeper != nil {
		if err := h.sweeper.SweepInactive(ctx); err != nil {
			h.logger.Error("Conversation sweep failed", zap.Error(err))
		}
	}
}

// Start schedules the housekeeping jobs with a 5-field cron expression and
// returns the running scheduler, or nil when disabled.
func (h *Housekeeper) Start() (*cron.Cron, error) {
	schedule := strings.TrimSpace(h.config.Schedule)
	if schedule == "" {
		h.logger.Info("Housekeeping disabled (no schedule configured)")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		h.runOnce(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %v", schedule, err)
	}

	c.Start()
	h.logger.Info("Housekeeping scheduled", zap.String("cron", schedule))
	return c, nil
}
