package models

import "time"

type KnowledgeSource string

const (
	SourceCuratedFAQ       KnowledgeSource = "curated_faq"
	SourceTicketResolution KnowledgeSource = "ticket_resolution"
	SourceManual           KnowledgeSource = "manual"
	SourceChatLearning     KnowledgeSource = "chat_learning"
)

// KnowledgeEntry is a stored question pattern with its answer template and
// success statistics. Counters are only ever changed through atomic
// increments on the storage layer; entries are deactivated, never deleted.
type KnowledgeEntry struct {
	ID                  int64           `json:"id"`
	Pattern             string          `json:"pattern"`
	Answer              string          `json:"answer"`
	Category            string          `json:"category"`
	Keywords            []string        `json:"keywords"`
	Source              KnowledgeSource `json:"source"`
	UsageCount          int             `json:"usage_count"`
	SuccessCount        int             `json:"success_count"`
	FailureCount        int             `json:"failure_count"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	Priority            int             `json:"priority"`
	IsActive            bool            `json:"is_active"`
	Language            string          `json:"language"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	LastUsedAt          time.Time       `json:"last_used_at"`
}

// SuccessRate returns the rated success percentage on a 0-100 scale,
// 0 when no rated uses exist yet.
func (e *KnowledgeEntry) SuccessRate() float64 {
	total := e.SuccessCount + e.FailureCount
	if total == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(total) * 100
}
