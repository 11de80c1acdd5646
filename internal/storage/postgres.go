package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/starfans/support-engine/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Knowledge

const knowledgeColumns = `id, pattern, answer, category, keywords, source,
	usage_count, success_count, failure_count, confidence_threshold,
	priority, is_active, language, created_at, updated_at, last_used_at`

func (s *PostgresStorage) CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	query := `
		INSERT INTO knowledge_entries
			(pattern, answer, category, keywords, source, confidence_threshold, priority, is_active, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at, last_used_at`

	err := s.db.QueryRowContext(ctx, query,
		entry.Pattern,
		entry.Answer,
		entry.Category,
		pq.Array(entry.Keywords),
		entry.Source,
		entry.ConfidenceThreshold,
		entry.Priority,
		entry.IsActive,
		entry.Language,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt, &entry.LastUsedAt)

	if err != nil {
		return fmt.Errorf("error creating knowledge entry: %v", err)
	}

	return nil
}

func scanKnowledgeEntry(row interface{ Scan(...any) error }) (*models.KnowledgeEntry, error) {
	entry := &models.KnowledgeEntry{}
	var keywords pq.StringArray
	err := row.Scan(
		&entry.ID,
		&entry.Pattern,
		&entry.Answer,
		&entry.Category,
		&keywords,
		&entry.Source,
		&entry.UsageCount,
		&entry.SuccessCount,
		&entry.FailureCount,
		&entry.ConfidenceThreshold,
		&entry.Priority,
		&entry.IsActive,
		&entry.Language,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&entry.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Keywords = keywords
	return entry, nil
}

func (s *PostgresStorage) GetKnowledgeEntry(ctx context.Context, id int64) (*models.KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE id = $1`

	entry, err := scanKnowledgeEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying knowledge entry: %v", err)
	}
	return entry, nil
}

func (s *PostgresStorage) FindKnowledgeByPattern(ctx context.Context, pattern string) (*models.KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE pattern = $1`

	entry, err := scanKnowledgeEntry(s.db.QueryRowContext(ctx, query, pattern))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying knowledge entry by pattern: %v", err)
	}
	return entry, nil
}

func (s *PostgresStorage) ListActiveKnowledge(ctx context.Context) ([]*models.KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE is_active ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying active knowledge: %v", err)
	}
	defer rows.Close()

	var entries []*models.KnowledgeEntry
	for rows.Next() {
		entry, err := scanKnowledgeEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning knowledge entry: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) UpdateKnowledgeAnswer(ctx context.Context, id int64, answer string, confidenceThreshold float64) error {
	query := `
		UPDATE knowledge_entries
		SET answer = $1, confidence_threshold = $2, updated_at = NOW()
		WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, answer, confidenceThreshold, id)
	if err != nil {
		return fmt.Errorf("error updating knowledge answer: %v", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) RecordKnowledgeUsage(ctx context.Context, id int64, success bool) error {
	// Single-statement increments so concurrent usage never loses counts.
	query := `
		UPDATE knowledge_entries
		SET usage_count = usage_count + 1,
		    success_count = success_count + CASE WHEN $1 THEN 1 ELSE 0 END,
		    failure_count = failure_count + CASE WHEN $1 THEN 0 ELSE 1 END,
		    last_used_at = NOW()
		WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, success, id)
	if err != nil {
		return fmt.Errorf("error recording knowledge usage: %v", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) MarkKnowledgeFailure(ctx context.Context, id int64) error {
	query := `
		UPDATE knowledge_entries
		SET success_count = GREATEST(success_count - 1, 0),
		    failure_count = failure_count + 1,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error marking knowledge failure: %v", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) DeactivateKnowledgeEntry(ctx context.Context, id int64) error {
	query := `UPDATE knowledge_entries SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error deactivating knowledge entry: %v", err)
	}
	return requireRow(result)
}

// Conversations

func (s *PostgresStorage) CreateConversation(ctx context.Context, c *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, status, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.UserID, c.Status, c.StartedAt)
	if err != nil {
		return fmt.Errorf("error creating conversation: %v", err)
	}
	return nil
}

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	c := &models.Conversation{}
	var endedAt sql.NullTime
	var resolution string
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Status,
		&c.StartedAt,
		&endedAt,
		&c.EscalatedTicketRef,
		&resolution,
		&c.MessageCount,
		&c.FallbackAttemptCount,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	c.ResolutionType = models.ResolutionType(resolution)
	return c, nil
}

const conversationColumns = `id, user_id, status, started_at, ended_at,
	escalated_ticket_ref, resolution_type, message_count, fallback_attempt_count`

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %v", err)
	}
	return c, nil
}

func (s *PostgresStorage) GetActiveConversationByUser(ctx context.Context, userID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_id = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying active conversation: %v", err)
	}
	return c, nil
}

func (s *PostgresStorage) CloseConversation(ctx context.Context, id string, status models.ConversationStatus, resolution models.ResolutionType, ticketRef string) error {
	// The status guard makes the transition a compare-and-swap: closing an
	// already-closed conversation reports a conflict instead of overwriting.
	query := `
		UPDATE conversations
		SET status = $1, resolution_type = $2, escalated_ticket_ref = $3, ended_at = NOW()
		WHERE id = $4 AND status = 'active'`

	result, err := s.db.ExecContext(ctx, query, status, resolution, ticketRef, id)
	if err != nil {
		return fmt.Errorf("error closing conversation: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStorage) IncrementFallbackAttempts(ctx context.Context, id string) error {
	query := `UPDATE conversations SET fallback_attempt_count = fallback_attempt_count + 1 WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error incrementing fallback attempts: %v", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) ListStaleActiveConversations(ctx context.Context, inactiveSince time.Time) ([]*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE status = 'active'
		  AND COALESCE((SELECT MAX(created_at) FROM messages m WHERE m.conversation_id = c.id), c.started_at) < $1`

	rows, err := s.db.QueryContext(ctx, query, inactiveSince)
	if err != nil {
		return nil, fmt.Errorf("error querying stale conversations: %v", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation: %v", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// Messages

func (s *PostgresStorage) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (id, conversation_id, sender, text, confidence, knowledge_id, was_helpful, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Text,
		msg.Confidence,
		msg.KnowledgeID,
		msg.WasHelpful,
		msg.Source,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting message: %v", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET message_count = message_count + 1 WHERE id = $1`,
		msg.ConversationID)
	if err != nil {
		return fmt.Errorf("error updating message count: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing message: %v", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	msg := &models.Message{}
	var confidence sql.NullFloat64
	var knowledgeID sql.NullInt64
	var helpful sql.NullBool
	var source string
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Sender,
		&msg.Text,
		&confidence,
		&knowledgeID,
		&helpful,
		&source,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if confidence.Valid {
		msg.Confidence = &confidence.Float64
	}
	if knowledgeID.Valid {
		msg.KnowledgeID = &knowledgeID.Int64
	}
	if helpful.Valid {
		msg.WasHelpful = &helpful.Bool
	}
	msg.Source = models.AnswerSource(source)
	return msg, nil
}

const messageColumns = `id, conversation_id, sender, text, confidence, knowledge_id, was_helpful, source, created_at`

func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying message: %v", err)
	}
	return msg, nil
}

func (s *PostgresStorage) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %v", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %v", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStorage) SetMessageHelpful(ctx context.Context, id string, helpful bool) error {
	query := `UPDATE messages SET was_helpful = $1 WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, helpful, id)
	if err != nil {
		return fmt.Errorf("error setting message helpfulness: %v", err)
	}
	return requireRow(result)
}

// Feedback

func (s *PostgresStorage) CreateFeedback(ctx context.Context, fb *models.FeedbackDetail) error {
	query := `
		INSERT INTO feedback_details
			(id, message_id, conversation_id, original_question, original_answer,
			 feedback_type, feedback_text, user_correct_answer, learning_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		fb.ID,
		fb.MessageID,
		fb.ConversationID,
		fb.OriginalQuestion,
		fb.OriginalAnswer,
		fb.FeedbackType,
		fb.FeedbackText,
		fb.UserCorrectAnswer,
		fb.LearningStatus,
		fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating feedback: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetFeedback(ctx context.Context, id string) (*models.FeedbackDetail, error) {
	query := `
		SELECT id, message_id, conversation_id, original_question, original_answer,
		       feedback_type, feedback_text, user_correct_answer, retry_attempted,
		       improved_answer, improved_answer_helpful, learning_status, created_at
		FROM feedback_details
		WHERE id = $1`

	fb := &models.FeedbackDetail{}
	var helpful sql.NullBool
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&fb.ID,
		&fb.MessageID,
		&fb.ConversationID,
		&fb.OriginalQuestion,
		&fb.OriginalAnswer,
		&fb.FeedbackType,
		&fb.FeedbackText,
		&fb.UserCorrectAnswer,
		&fb.RetryAttempted,
		&fb.ImprovedAnswer,
		&helpful,
		&fb.LearningStatus,
		&fb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying feedback: %v", err)
	}
	if helpful.Valid {
		fb.ImprovedAnswerHelpful = &helpful.Bool
	}
	return fb, nil
}

func (s *PostgresStorage) UpdateFeedback(ctx context.Context, fb *models.FeedbackDetail) error {
	query := `
		UPDATE feedback_details
		SET retry_attempted = $1, improved_answer = $2, improved_answer_helpful = $3, learning_status = $4
		WHERE id = $5`

	result, err := s.db.ExecContext(ctx, query,
		fb.RetryAttempted,
		fb.ImprovedAnswer,
		fb.ImprovedAnswerHelpful,
		fb.LearningStatus,
		fb.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating feedback: %v", err)
	}
	return requireRow(result)
}

// Learning queue

func (s *PostgresStorage) EnqueueLearning(ctx context.Context, entry *models.LearningQueueEntry) error {
	query := `
		INSERT INTO learning_queue
			(id, origin, feedback_id, question, answer, category, confidence, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Origin,
		entry.FeedbackID,
		entry.Question,
		entry.Answer,
		entry.Category,
		entry.Confidence,
		entry.Status,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error enqueueing learning entry: %v", err)
	}
	return nil
}

func scanLearningEntry(row interface{ Scan(...any) error }) (*models.LearningQueueEntry, error) {
	entry := &models.LearningQueueEntry{}
	var knowledgeID sql.NullInt64
	err := row.Scan(
		&entry.ID,
		&entry.Origin,
		&entry.FeedbackID,
		&entry.Question,
		&entry.Answer,
		&entry.Category,
		&entry.Confidence,
		&entry.Status,
		&knowledgeID,
		&entry.Consumed,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if knowledgeID.Valid {
		entry.KnowledgeID = &knowledgeID.Int64
	}
	return entry, nil
}

const learningColumns = `id, origin, feedback_id, question, answer, category, confidence, status, knowledge_id, consumed, created_at`

func (s *PostgresStorage) GetLearningEntry(ctx context.Context, id string) (*models.LearningQueueEntry, error) {
	query := `SELECT ` + learningColumns + ` FROM learning_queue WHERE id = $1`

	entry, err := scanLearningEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying learning entry: %v", err)
	}
	return entry, nil
}

func (s *PostgresStorage) ListLearningQueue(ctx context.Context, status models.QueueStatus) ([]*models.LearningQueueEntry, error) {
	query := `SELECT ` + learningColumns + ` FROM learning_queue WHERE status = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("error querying learning queue: %v", err)
	}
	defer rows.Close()

	var entries []*models.LearningQueueEntry
	for rows.Next() {
		entry, err := scanLearningEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning learning entry: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) SetLearningStatus(ctx context.Context, id string, status models.QueueStatus) error {
	query := `UPDATE learning_queue SET status = $1 WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("error setting learning status: %v", err)
	}
	return requireRow(result)
}

func (s *PostgresStorage) ConsumeLearningEntry(ctx context.Context, id string, knowledgeID int64) error {
	query := `
		UPDATE learning_queue
		SET consumed = TRUE, knowledge_id = $1
		WHERE id = $2 AND NOT consumed`

	result, err := s.db.ExecContext(ctx, query, knowledgeID, id)
	if err != nil {
		return fmt.Errorf("error consuming learning entry: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// Recurring questions

func (s *PostgresStorage) GetRecurringQuestion(ctx context.Context, normalized string) (*models.RecurringQuestion, error) {
	query := `
		SELECT normalized_text, category, ask_count, examples, successful_answers,
		       learning_priority, suggested_for_learning, staged_at, first_asked_at, last_asked_at
		FROM recurring_questions
		WHERE normalized_text = $1`

	q := &models.RecurringQuestion{}
	var examples, answers pq.StringArray
	var stagedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, normalized).Scan(
		&q.NormalizedText,
		&q.Category,
		&q.AskCount,
		&examples,
		&answers,
		&q.LearningPriority,
		&q.SuggestedForLearning,
		&stagedAt,
		&q.FirstAskedAt,
		&q.LastAskedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying recurring question: %v", err)
	}
	q.Examples = examples
	q.SuccessfulAnswers = answers
	if stagedAt.Valid {
		q.StagedAt = &stagedAt.Time
	}
	return q, nil
}

func (s *PostgresStorage) UpsertRecurringQuestion(ctx context.Context, q *models.RecurringQuestion) error {
	query := `
		INSERT INTO recurring_questions
			(normalized_text, category, ask_count, examples, successful_answers,
			 learning_priority, suggested_for_learning, staged_at, first_asked_at, last_asked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (normalized_text) DO UPDATE
		SET category = EXCLUDED.category,
		    ask_count = EXCLUDED.ask_count,
		    examples = EXCLUDED.examples,
		    successful_answers = EXCLUDED.successful_answers,
		    learning_priority = EXCLUDED.learning_priority,
		    suggested_for_learning = EXCLUDED.suggested_for_learning,
		    staged_at = EXCLUDED.staged_at,
		    last_asked_at = EXCLUDED.last_asked_at`

	_, err := s.db.ExecContext(ctx, query,
		q.NormalizedText,
		q.Category,
		q.AskCount,
		pq.Array(q.Examples),
		pq.Array(q.SuccessfulAnswers),
		q.LearningPriority,
		q.SuggestedForLearning,
		q.StagedAt,
		q.FirstAskedAt,
		q.LastAskedAt,
	)
	if err != nil {
		return fmt.Errorf("error upserting recurring question: %v", err)
	}
	return nil
}

func (s *PostgresStorage) ListSuggestedRecurring(ctx context.Context) ([]*models.RecurringQuestion, error) {
	query := `
		SELECT normalized_text, category, ask_count, examples, successful_answers,
		       learning_priority, suggested_for_learning, staged_at, first_asked_at, last_asked_at
		FROM recurring_questions
		WHERE suggested_for_learning
		ORDER BY learning_priority DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying suggested questions: %v", err)
	}
	defer rows.Close()

	var questions []*models.RecurringQuestion
	for rows.Next() {
		q := &models.RecurringQuestion{}
		var examples, answers pq.StringArray
		var stagedAt sql.NullTime
		err := rows.Scan(
			&q.NormalizedText,
			&q.Category,
			&q.AskCount,
			&examples,
			&answers,
			&q.LearningPriority,
			&q.SuggestedForLearning,
			&stagedAt,
			&q.FirstAskedAt,
			&q.LastAskedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning recurring question: %v", err)
		}
		q.Examples = examples
		q.SuccessfulAnswers = answers
		if stagedAt.Valid {
			q.StagedAt = &stagedAt.Time
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
