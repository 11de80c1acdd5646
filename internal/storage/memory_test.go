package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starfans/support-engine/internal/models"
)

func TestCloseConversationIsGuarded(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	conv := models.NewConversation(1)
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if err := store.CloseConversation(ctx, conv.ID, models.ConversationResolved, models.ResolutionAIResolved, ""); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	err := store.CloseConversation(ctx, conv.ID, models.ConversationEscalated, models.ResolutionEscalated, "T-1")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second close = %v, want ErrConflict", err)
	}

	reloaded, _ := store.GetConversation(ctx, conv.ID)
	if reloaded.Status != models.ConversationResolved {
		t.Errorf("status overwritten to %s", reloaded.Status)
	}
	if reloaded.EndedAt == nil {
		t.Error("ended_at not set")
	}
}

func TestConsumeLearningEntryOnlyOnce(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	entry := &models.LearningQueueEntry{
		ID:        "q1",
		Origin:    models.QueueFromFeedback,
		Question:  "frage",
		Answer:    "antwort",
		Status:    models.QueueApproved,
		CreatedAt: time.Now(),
	}
	if err := store.EnqueueLearning(ctx, entry); err != nil {
		t.Fatalf("EnqueueLearning failed: %v", err)
	}

	if err := store.ConsumeLearningEntry(ctx, "q1", 42); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	if err := store.ConsumeLearningEntry(ctx, "q1", 43); !errors.Is(err, ErrConflict) {
		t.Errorf("second consume = %v, want ErrConflict", err)
	}

	reloaded, _ := store.GetLearningEntry(ctx, "q1")
	if reloaded.KnowledgeID == nil || *reloaded.KnowledgeID != 42 {
		t.Errorf("knowledge linkage = %v, want 42", reloaded.KnowledgeID)
	}
}

func TestRecordKnowledgeUsageCounters(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	entry := &models.KnowledgeEntry{Pattern: "p", Answer: "a", IsActive: true}
	if err := store.CreateKnowledgeEntry(ctx, entry); err != nil {
		t.Fatalf("CreateKnowledgeEntry failed: %v", err)
	}
	before, _ := store.GetKnowledgeEntry(ctx, entry.ID)

	if err := store.RecordKnowledgeUsage(ctx, entry.ID, true); err != nil {
		t.Fatalf("RecordKnowledgeUsage failed: %v", err)
	}
	if err := store.RecordKnowledgeUsage(ctx, entry.ID, false); err != nil {
		t.Fatalf("RecordKnowledgeUsage failed: %v", err)
	}

	after, _ := store.GetKnowledgeEntry(ctx, entry.ID)
	if after.UsageCount != 2 || after.SuccessCount != 1 || after.FailureCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/1/1", after.UsageCount, after.SuccessCount, after.FailureCount)
	}
	if !after.LastUsedAt.After(before.LastUsedAt) && !after.LastUsedAt.Equal(before.LastUsedAt) {
		t.Error("last_used_at not touched")
	}
}

func TestMarkKnowledgeFailureNeverGoesNegative(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	entry := &models.KnowledgeEntry{Pattern: "p", Answer: "a", IsActive: true}
	if err := store.CreateKnowledgeEntry(ctx, entry); err != nil {
		t.Fatalf("CreateKnowledgeEntry failed: %v", err)
	}
	if err := store.MarkKnowledgeFailure(ctx, entry.ID); err != nil {
		t.Fatalf("MarkKnowledgeFailure failed: %v", err)
	}

	after, _ := store.GetKnowledgeEntry(ctx, entry.ID)
	if after.SuccessCount != 0 || after.FailureCount != 1 {
		t.Errorf("counters = %d/%d, want 0/1", after.SuccessCount, after.FailureCount)
	}
}

func TestAppendMessageKeepsCountConsistent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	if err := store.AppendMessage(ctx, models.NewUserMessage("missing", "hallo")); !errors.Is(err, ErrNotFound) {
		t.Errorf("append to missing conversation = %v, want ErrNotFound", err)
	}

	conv := models.NewConversation(1)
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.AppendMessage(ctx, models.NewUserMessage(conv.ID, "hallo")); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	reloaded, _ := store.GetConversation(ctx, conv.ID)
	if reloaded.MessageCount != 3 {
		t.Errorf("message_count = %d, want 3", reloaded.MessageCount)
	}
	messages, _ := store.GetMessages(ctx, conv.ID)
	if len(messages) != 3 {
		t.Errorf("stored messages = %d, want 3", len(messages))
	}
}
