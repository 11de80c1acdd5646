package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/starfans/support-engine/internal/models"
)

// MemoryStorage keeps everything in process. It mirrors the semantics of
// PostgresStorage, including the guarded close/consume updates, so the
// engine behaves identically against either backend.
type MemoryStorage struct {
	mu            sync.RWMutex
	nextID        int64
	knowledge     map[int64]*models.KnowledgeEntry
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	feedback      map[string]*models.FeedbackDetail
	learning      map[string]*models.LearningQueueEntry
	recurring     map[string]*models.RecurringQuestion
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		knowledge:     make(map[int64]*models.KnowledgeEntry),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		feedback:      make(map[string]*models.FeedbackDetail),
		learning:      make(map[string]*models.LearningQueueEntry),
		recurring:     make(map[string]*models.RecurringQuestion),
	}
}

func (s *MemoryStorage) Close() error {
	return nil
}

// Knowledge

func (s *MemoryStorage) CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.LastUsedAt = now

	stored := *entry
	s.knowledge[entry.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetKnowledgeEntry(ctx context.Context, id int64) (*models.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.knowledge[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *MemoryStorage) FindKnowledgeByPattern(ctx context.Context, pattern string) (*models.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.knowledge {
		if entry.Pattern == pattern {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListActiveKnowledge(ctx context.Context) ([]*models.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*models.KnowledgeEntry
	for _, entry := range s.knowledge {
		if entry.IsActive {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *MemoryStorage) UpdateKnowledgeAnswer(ctx context.Context, id int64, answer string, confidenceThreshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.knowledge[id]
	if !exists {
		return ErrNotFound
	}
	entry.Answer = answer
	entry.ConfidenceThreshold = confidenceThreshold
	entry.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) RecordKnowledgeUsage(ctx context.Context, id int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.knowledge[id]
	if !exists {
		return ErrNotFound
	}
	entry.UsageCount++
	if success {
		entry.SuccessCount++
	} else {
		entry.FailureCount++
	}
	entry.LastUsedAt = time.Now()
	return nil
}

func (s *MemoryStorage) MarkKnowledgeFailure(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.knowledge[id]
	if !exists {
		return ErrNotFound
	}
	if entry.SuccessCount > 0 {
		entry.SuccessCount--
	}
	entry.FailureCount++
	entry.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) DeactivateKnowledgeEntry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.knowledge[id]
	if !exists {
		return ErrNotFound
	}
	entry.IsActive = false
	entry.UpdatedAt = time.Now()
	return nil
}

// Conversations

func (s *MemoryStorage) CreateConversation(ctx context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	s.conversations[c.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStorage) GetActiveConversationByUser(ctx context.Context, userID int64) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Conversation
	for _, c := range s.conversations {
		if c.UserID != userID || c.Status != models.ConversationActive {
			continue
		}
		if latest == nil || c.StartedAt.After(latest.StartedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStorage) CloseConversation(ctx context.Context, id string, status models.ConversationStatus, resolution models.ResolutionType, ticketRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	if c.Status != models.ConversationActive {
		return ErrConflict
	}
	now := time.Now()
	c.Status = status
	c.ResolutionType = resolution
	c.EscalatedTicketRef = ticketRef
	c.EndedAt = &now
	return nil
}

func (s *MemoryStorage) IncrementFallbackAttempts(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	c.FallbackAttemptCount++
	return nil
}

func (s *MemoryStorage) ListStaleActiveConversations(ctx context.Context, inactiveSince time.Time) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastActivity := make(map[string]time.Time)
	for _, msg := range s.messages {
		if msg.CreatedAt.After(lastActivity[msg.ConversationID]) {
			lastActivity[msg.ConversationID] = msg.CreatedAt
		}
	}

	var stale []*models.Conversation
	for _, c := range s.conversations {
		if c.Status != models.ConversationActive {
			continue
		}
		last := c.StartedAt
		if t, ok := lastActivity[c.ID]; ok && t.After(last) {
			last = t
		}
		if last.Before(inactiveSince) {
			copied := *c
			stale = append(stale, &copied)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Before(stale[j].StartedAt) })
	return stale, nil
}

// Messages

func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.conversations[msg.ConversationID]
	if !exists {
		return ErrNotFound
	}
	stored := *msg
	s.messages[msg.ID] = &stored
	c.MessageCount++
	return nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStorage) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []*models.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			copied := *msg
			messages = append(messages, &copied)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *MemoryStorage) SetMessageHelpful(ctx context.Context, id string, helpful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	msg.WasHelpful = &helpful
	return nil
}

// Feedback

func (s *MemoryStorage) CreateFeedback(ctx context.Context, fb *models.FeedbackDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *fb
	s.feedback[fb.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetFeedback(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fb, exists := s.feedback[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *fb
	return &copied, nil
}

func (s *MemoryStorage) UpdateFeedback(ctx context.Context, fb *models.FeedbackDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.feedback[fb.ID]; !exists {
		return ErrNotFound
	}
	stored := *fb
	s.feedback[fb.ID] = &stored
	return nil
}

// Learning queue

func (s *MemoryStorage) EnqueueLearning(ctx context.Context, entry *models.LearningQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	s.learning[entry.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetLearningEntry(ctx context.Context, id string) (*models.LearningQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.learning[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *MemoryStorage) ListLearningQueue(ctx context.Context, status models.QueueStatus) ([]*models.LearningQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*models.LearningQueueEntry
	for _, entry := range s.learning {
		if entry.Status == status {
			copied := *entry
			entries = append(entries, &copied)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (s *MemoryStorage) SetLearningStatus(ctx context.Context, id string, status models.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.learning[id]
	if !exists {
		return ErrNotFound
	}
	entry.Status = status
	return nil
}

func (s *MemoryStorage) ConsumeLearningEntry(ctx context.Context, id string, knowledgeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.learning[id]
	if !exists {
		return ErrNotFound
	}
	if entry.Consumed {
		return ErrConflict
	}
	entry.Consumed = true
	entry.KnowledgeID = &knowledgeID
	return nil
}

// Recurring questions

func (s *MemoryStorage) GetRecurringQuestion(ctx context.Context, normalized string) (*models.RecurringQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, exists := s.recurring[normalized]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *q
	copied.Examples = append([]string(nil), q.Examples...)
	copied.SuccessfulAnswers = append([]string(nil), q.SuccessfulAnswers...)
	return &copied, nil
}

func (s *MemoryStorage) UpsertRecurringQuestion(ctx context.Context, q *models.RecurringQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *q
	stored.Examples = append([]string(nil), q.Examples...)
	stored.SuccessfulAnswers = append([]string(nil), q.SuccessfulAnswers...)
	s.recurring[q.NormalizedText] = &stored
	return nil
}

func (s *MemoryStorage) ListSuggestedRecurring(ctx context.Context) ([]*models.RecurringQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var questions []*models.RecurringQuestion
	for _, q := range s.recurring {
		if q.SuggestedForLearning {
			copied := *q
			copied.Examples = append([]string(nil), q.Examples...)
			copied.SuccessfulAnswers = append([]string(nil), q.SuccessfulAnswers...)
			questions = append(questions, &copied)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].LearningPriority > questions[j].LearningPriority })
	return questions, nil
}
