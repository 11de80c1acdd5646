package learning

import (
	"context"
	"testing"
	"time"

	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

func newHousekeeperFixture(t *testing.T) (*Housekeeper, *Pipeline, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	resp := &fakeResponder{}
	pipeline := NewPipeline(store, resp, false, zap.NewNop())
	hk := NewHousekeeper(store, store, pipeline, nil, DefaultHousekeepingConfig(), zap.NewNop())
	return hk, pipeline, store
}

func TestDeactivateLowPerformers(t *testing.T) {
	hk, _, store := newHousekeeperFixture(t)
	ctx := context.Background()

	failing := &models.KnowledgeEntry{
		Pattern:      "alte antwort",
		Answer:       "...",
		SuccessCount: 1,
		FailureCount: 9,
		IsActive:     true,
	}
	healthy := &models.KnowledgeEntry{
		Pattern:      "gute antwort",
		Answer:       "...",
		SuccessCount: 9,
		FailureCount: 1,
		IsActive:     true,
	}
	// Below the floor but not enough rated uses yet.
	unproven := &models.KnowledgeEntry{
		Pattern:      "neue antwort",
		Answer:       "...",
		FailureCount: 2,
		IsActive:     true,
	}
	for _, entry := range []*models.KnowledgeEntry{failing, healthy, unproven} {
		if err := store.CreateKnowledgeEntry(ctx, entry); err != nil {
			t.Fatalf("CreateKnowledgeEntry failed: %v", err)
		}
	}

	if err := hk.DeactivateLowPerformers(ctx); err != nil {
		t.Fatalf("DeactivateLowPerformers failed: %v", err)
	}

	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{"failing entry deactivated", failing.ID, false},
		{"healthy entry untouched", healthy.ID, true},
		{"unproven entry untouched", unproven.ID, true},
	}
	for _, tt := range tests {
		entry, err := store.GetKnowledgeEntry(ctx, tt.id)
		if err != nil {
			t.Fatalf("GetKnowledgeEntry failed: %v", err)
		}
		if entry.IsActive != tt.want {
			t.Errorf("%s: is_active = %v, want %v", tt.name, entry.IsActive, tt.want)
		}
	}
}

func TestPromoteRecurringEnqueuesOnce(t *testing.T) {
	hk, _, store := newHousekeeperFixture(t)
	ctx := context.Background()

	now := time.Now()
	if err := store.UpsertRecurringQuestion(ctx, &models.RecurringQuestion{
		NormalizedText:       "wie ändere ich mein passwort",
		AskCount:             5,
		SuccessfulAnswers:    []string{"So änderst du dein Passwort: ..."},
		SuggestedForLearning: true,
		FirstAskedAt:         now,
		LastAskedAt:          now,
	}); err != nil {
		t.Fatalf("UpsertRecurringQuestion failed: %v", err)
	}
	// Suggested but without a proven answer: nothing to stage.
	if err := store.UpsertRecurringQuestion(ctx, &models.RecurringQuestion{
		NormalizedText:       "warum ist mein stream langsam",
		AskCount:             7,
		SuggestedForLearning: true,
		FirstAskedAt:         now,
		LastAskedAt:          now,
	}); err != nil {
		t.Fatalf("UpsertRecurringQuestion failed: %v", err)
	}

	if err := hk.PromoteRecurring(ctx); err != nil {
		t.Fatalf("PromoteRecurring failed: %v", err)
	}
	pending, err := store.ListLearningQueue(ctx, models.QueuePending)
	if err != nil {
		t.Fatalf("ListLearningQueue failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending queue = %d entries, want 1", len(pending))
	}
	if pending[0].Origin != models.QueueFromRecurring {
		t.Errorf("origin = %s, want recurring", pending[0].Origin)
	}

	// A second run must not enqueue a duplicate.
	if err := hk.PromoteRecurring(ctx); err != nil {
		t.Fatalf("second PromoteRecurring failed: %v", err)
	}
	pending, _ = store.ListLearningQueue(ctx, models.QueuePending)
	if len(pending) != 1 {
		t.Errorf("pending queue after rerun = %d entries, want 1", len(pending))
	}

	staged, err := store.GetRecurringQuestion(ctx, "wie ändere ich mein passwort")
	if err != nil {
		t.Fatalf("GetRecurringQuestion failed: %v", err)
	}
	if staged.SuggestedForLearning || staged.StagedAt == nil {
		t.Error("staged question must leave the suggestion list")
	}
}

func TestPromoteRecurringRejectedStaysOut(t *testing.T) {
	hk, pipeline, store := newHousekeeperFixture(t)
	ctx := context.Background()

	now := time.Now()
	if err := store.UpsertRecurringQuestion(ctx, &models.RecurringQuestion{
		NormalizedText:       "wie kündige ich mein abo",
		AskCount:             6,
		SuccessfulAnswers:    []string{"So kündigst du dein Abo: ..."},
		SuggestedForLearning: true,
		FirstAskedAt:         now,
		LastAskedAt:          now,
	}); err != nil {
		t.Fatalf("UpsertRecurringQuestion failed: %v", err)
	}

	if err := hk.PromoteRecurring(ctx); err != nil {
		t.Fatalf("PromoteRecurring failed: %v", err)
	}
	pending, err := store.ListLearningQueue(ctx, models.QueuePending)
	if err != nil {
		t.Fatalf("ListLearningQueue failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending queue = %d entries, want 1", len(pending))
	}

	if err := pipeline.Reject(ctx, pending[0].ID); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	// The rejection is final; no later run brings the question back.
	for i := 0; i < 2; i++ {
		if err := hk.PromoteRecurring(ctx); err != nil {
			t.Fatalf("PromoteRecurring rerun failed: %v", err)
		}
	}
	pending, _ = store.ListLearningQueue(ctx, models.QueuePending)
	if len(pending) != 0 {
		t.Errorf("rejected suggestion re-staged: %d pending entries after rerun", len(pending))
	}
}

func TestPromoteRecurringDedupesAcrossPhrasings(t *testing.T) {
	hk, _, store := newHousekeeperFixture(t)
	ctx := context.Background()

	// A feedback-origin entry keeps the raw phrasing with punctuation.
	if err := store.EnqueueLearning(ctx, &models.LearningQueueEntry{
		ID:        "q-1",
		Origin:    models.QueueFromFeedback,
		Question:  "Wie ändere ich mein Passwort?",
		Answer:    "So änderst du dein Passwort: ...",
		Status:    models.QueuePending,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("EnqueueLearning failed: %v", err)
	}

	now := time.Now()
	if err := store.UpsertRecurringQuestion(ctx, &models.RecurringQuestion{
		NormalizedText:       "wie ändere ich mein passwort",
		AskCount:             5,
		SuccessfulAnswers:    []string{"..."},
		SuggestedForLearning: true,
		FirstAskedAt:         now,
		LastAskedAt:          now,
	}); err != nil {
		t.Fatalf("UpsertRecurringQuestion failed: %v", err)
	}

	if err := hk.PromoteRecurring(ctx); err != nil {
		t.Fatalf("PromoteRecurring failed: %v", err)
	}
	pending, _ := store.ListLearningQueue(ctx, models.QueuePending)
	if len(pending) != 1 {
		t.Errorf("pending queue = %d entries, want the feedback entry only", len(pending))
	}
}

func TestHousekeeperStartValidatesSchedule(t *testing.T) {
	hk, _, _ := newHousekeeperFixture(t)

	hk.config.Schedule = ""
	c, err := hk.Start()
	if err != nil || c != nil {
		t.Errorf("empty schedule: got (%v, %v), want disabled", c, err)
	}

	hk.config.Schedule = "not a cron line"
	if _, err := hk.Start(); err == nil {
		t.Error("invalid schedule accepted")
	}

	hk.config.Schedule = "0 4 * * *"
	c, err = hk.Start()
	if err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if c == nil {
		t.Fatal("no scheduler returned")
	}
	c.Stop()
}
