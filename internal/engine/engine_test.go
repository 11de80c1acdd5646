package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/responder"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

type fakeTicketStore struct {
	mu      sync.Mutex
	fail    bool
	created int
}

func (f *fakeTicketStore) CreateTicket(ctx context.Context, subject, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("ticketing down")
	}
	f.created++
	return fmt.Sprintf("T-%d", f.created), nil
}

type engineFixture struct {
	engine  *Engine
	store   *storage.MemoryStorage
	tickets *fakeTicketStore
	resp    *fakeResponder
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	resp := &fakeResponder{err: errors.New("responder unavailable")}
	matcher := knowledge.NewMatcher(store, zap.NewNop())
	gate := NewGate(matcher, resp, store, &fakeTracker{}, zap.NewNop())
	tickets := &fakeTicketStore{}
	escalator := NewEscalator(store, tickets, zap.NewNop())
	eng := New(store, gate, escalator, cfg, zap.NewNop())
	return &engineFixture{engine: eng, store: store, tickets: tickets, resp: resp}
}

func TestHandleUserTurnProducesExactlyOneAnswer(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())

	result, err := fix.engine.HandleUserTurn(context.Background(), 1, "Hilfe, nichts geht")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}
	if result.Answer == nil || result.Answer.Sender != models.SenderAI {
		t.Fatal("turn produced no assistant answer")
	}
	if result.Answer.Confidence == nil || *result.Answer.Confidence != 0.3 {
		t.Errorf("fallback answer confidence = %v, want 0.3", result.Answer.Confidence)
	}
	if result.Answer.Text == "" {
		t.Error("fallback answer text is empty")
	}

	messages, err := fix.store.GetMessages(context.Background(), result.Conversation.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	aiCount := 0
	for _, msg := range messages {
		if msg.Sender == models.SenderAI {
			aiCount++
		}
	}
	if aiCount != 1 {
		t.Errorf("expected exactly one ai message, got %d", aiCount)
	}
}

func TestHandleUserTurnRejectsInvalidInput(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())

	if _, err := fix.engine.HandleUserTurn(context.Background(), 1, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty message error = %v, want ErrEmptyMessage", err)
	}

	long := make([]byte, maxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := fix.engine.HandleUserTurn(context.Background(), 1, string(long)); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("oversized message error = %v, want ErrMessageTooLong", err)
	}
}

func TestFallbackCeilingForcesEscalation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackCeiling = 5
	fix := newEngineFixture(t, cfg)

	var last *TurnResult
	for turn := 1; turn <= 6; turn++ {
		result, err := fix.engine.HandleUserTurn(context.Background(), 1, fmt.Sprintf("versuch %d", turn))
		if err != nil {
			t.Fatalf("turn %d failed: %v", turn, err)
		}
		if turn < 6 && result.Escalated {
			t.Fatalf("turn %d escalated before the ceiling", turn)
		}
		last = result
	}

	if !last.Escalated {
		t.Fatal("6th fallback turn with ceiling=5 must escalate")
	}
	if last.TicketRef == "" {
		t.Fatal("escalation reported without a ticket reference")
	}

	conv, err := fix.store.GetConversation(context.Background(), last.Conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Status != models.ConversationEscalated {
		t.Errorf("status = %s, want escalated", conv.Status)
	}
	if conv.ResolutionType != models.ResolutionEscalated {
		t.Errorf("resolution = %s, want escalated", conv.ResolutionType)
	}
	if conv.EscalatedTicketRef != last.TicketRef {
		t.Errorf("ticket ref = %q, want %q", conv.EscalatedTicketRef, last.TicketRef)
	}
}

func TestEscalationAtomicityOnTicketFailure(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())
	fix.tickets.fail = true

	result, err := fix.engine.HandleUserTurn(context.Background(), 1, "mein Konto ist gesperrt")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}

	_, err = fix.engine.Escalate(context.Background(), result.Conversation.ID, "")
	if !errors.Is(err, ErrTicketCreation) {
		t.Fatalf("escalation error = %v, want ErrTicketCreation", err)
	}

	conv, err := fix.store.GetConversation(context.Background(), result.Conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Status != models.ConversationActive {
		t.Errorf("status = %s, want active after failed ticket creation", conv.Status)
	}
	messages, _ := fix.store.GetMessages(context.Background(), conv.ID)
	for _, msg := range messages {
		if msg.Sender == models.SenderSystem {
			t.Error("system ticket announcement appended despite ticket failure")
		}
	}
}

func TestEscalationAppendsSystemMessage(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())

	result, err := fix.engine.HandleUserTurn(context.Background(), 1, "Auszahlung kommt nicht an")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}

	ticketRef, err := fix.engine.Escalate(context.Background(), result.Conversation.ID, "Nutzer bittet um Rückruf")
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if ticketRef == "" {
		t.Fatal("no ticket reference returned")
	}

	messages, _ := fix.store.GetMessages(context.Background(), result.Conversation.ID)
	found := false
	for _, msg := range messages {
		if msg.Sender == models.SenderSystem {
			found = true
		}
	}
	if !found {
		t.Error("no system message announcing the ticket")
	}
}

func TestEscalateClosedConversationFails(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())

	result, err := fix.engine.HandleUserTurn(context.Background(), 1, "frage")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}
	if err := fix.engine.Resolve(context.Background(), result.Conversation.ID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, err := fix.engine.Escalate(context.Background(), result.Conversation.ID, ""); !errors.Is(err, ErrConversationClosed) {
		t.Errorf("escalating a resolved conversation = %v, want ErrConversationClosed", err)
	}
}

func TestEnsureConversationReusesRecentAndClosesStale(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())
	ctx := context.Background()

	first, err := fix.engine.EnsureConversation(ctx, 7)
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	again, err := fix.engine.EnsureConversation(ctx, 7)
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if again.ID != first.ID {
		t.Error("recent active conversation was not reused")
	}

	stale := models.NewConversation(8)
	stale.StartedAt = time.Now().Add(-25 * time.Hour)
	if err := fix.store.CreateConversation(ctx, stale); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	fresh, err := fix.engine.EnsureConversation(ctx, 8)
	if err != nil {
		t.Fatalf("EnsureConversation failed: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Fatal("stale conversation was reused instead of force-closed")
	}

	closed, err := fix.store.GetConversation(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if closed.Status != models.ConversationAbandoned || closed.ResolutionType != models.ResolutionTimeout {
		t.Errorf("stale conversation closed as %s/%s, want abandoned/timeout", closed.Status, closed.ResolutionType)
	}
}

func TestResolveTransition(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())

	result, err := fix.engine.HandleUserTurn(context.Background(), 1, "alles klar danke")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}
	if err := fix.engine.Resolve(context.Background(), result.Conversation.ID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	conv, _ := fix.store.GetConversation(context.Background(), result.Conversation.ID)
	if conv.Status != models.ConversationResolved || conv.ResolutionType != models.ResolutionAIResolved {
		t.Errorf("conversation closed as %s/%s, want resolved/ai_resolved", conv.Status, conv.ResolutionType)
	}
	if err := fix.engine.Resolve(context.Background(), result.Conversation.ID); !errors.Is(err, ErrConversationClosed) {
		t.Errorf("second resolve = %v, want ErrConversationClosed", err)
	}
}

func TestTerminalConversationReleasesLock(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())
	ctx := context.Background()

	hasLock := func(id string) bool {
		fix.engine.mu.Lock()
		defer fix.engine.mu.Unlock()
		_, exists := fix.engine.locks[id]
		return exists
	}

	result, err := fix.engine.HandleUserTurn(ctx, 1, "alles klar danke")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}
	if !hasLock(result.Conversation.ID) {
		t.Fatal("active conversation has no lock entry")
	}
	if err := fix.engine.Resolve(ctx, result.Conversation.ID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if hasLock(result.Conversation.ID) {
		t.Error("resolved conversation still holds a lock entry")
	}

	result, err = fix.engine.HandleUserTurn(ctx, 2, "ich will einen Menschen sprechen")
	if err != nil {
		t.Fatalf("HandleUserTurn failed: %v", err)
	}
	if _, err := fix.engine.Escalate(ctx, result.Conversation.ID, ""); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if hasLock(result.Conversation.ID) {
		t.Error("escalated conversation still holds a lock entry")
	}
}

func TestSweepInactive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InactivityTimeout = time.Minute
	fix := newEngineFixture(t, cfg)
	ctx := context.Background()

	quiet := models.NewConversation(1)
	quiet.StartedAt = time.Now().Add(-10 * time.Minute)
	if err := fix.store.CreateConversation(ctx, quiet); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	struggling := models.NewConversation(2)
	struggling.StartedAt = time.Now().Add(-10 * time.Minute)
	if err := fix.store.CreateConversation(ctx, struggling); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := fix.store.IncrementFallbackAttempts(ctx, struggling.ID); err != nil {
		t.Fatalf("IncrementFallbackAttempts failed: %v", err)
	}

	if err := fix.engine.SweepInactive(ctx); err != nil {
		t.Fatalf("SweepInactive failed: %v", err)
	}

	closedQuiet, _ := fix.store.GetConversation(ctx, quiet.ID)
	if closedQuiet.Status != models.ConversationAbandoned || closedQuiet.ResolutionType != models.ResolutionUserLeft {
		t.Errorf("quiet conversation closed as %s/%s, want abandoned/user_left", closedQuiet.Status, closedQuiet.ResolutionType)
	}

	escalated, _ := fix.store.GetConversation(ctx, struggling.ID)
	if escalated.Status != models.ConversationEscalated {
		t.Errorf("struggling conversation closed as %s, want escalated", escalated.Status)
	}
	if escalated.EscalatedTicketRef == "" {
		t.Error("timeout escalation created no ticket")
	}
}

func TestTicketSubjectTruncation(t *testing.T) {
	long := "Das ist eine sehr lange erste Nachricht mit deutlich mehr als fünfzig Zeichen Inhalt"
	messages := []*models.Message{
		models.NewUserMessage("c", long),
	}
	subject := ticketSubject(messages)
	if len([]rune(subject)) != subjectMaxLength+3 {
		t.Errorf("subject length = %d runes, want %d plus ellipsis", len([]rune(subject)), subjectMaxLength)
	}

	short := ticketSubject([]*models.Message{models.NewUserMessage("c", "kurze Frage")})
	if short != "kurze Frage" {
		t.Errorf("short subject = %q", short)
	}
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	fix := newEngineFixture(t, DefaultConfig())
	fix.resp.err = nil
	fix.resp.reply = responder.Reply{Response: "ok", Confidence: 0.9}

	// Seed the conversation so all goroutines hit the same one.
	first, err := fix.engine.HandleUserTurn(context.Background(), 1, "start")
	if err != nil {
		t.Fatalf("seed turn failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := fix.engine.HandleUserTurn(context.Background(), 1, fmt.Sprintf("frage %d", n))
			if err != nil && !errors.Is(err, ErrConversationClosed) {
				t.Errorf("concurrent turn failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := fix.store.GetConversation(context.Background(), first.Conversation.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	messages, err := fix.store.GetMessages(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if conv.MessageCount != len(messages) {
		t.Errorf("message_count = %d but %d messages stored", conv.MessageCount, len(messages))
	}
	// 11 turns, two messages each.
	if len(messages) != 22 {
		t.Errorf("stored %d messages, want 22", len(messages))
	}
}
