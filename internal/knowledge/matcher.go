package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/starfans/support-engine/internal/models"
	"github.com/starfans/support-engine/internal/storage"
	"go.uber.org/zap"
)

const (
	scoreExactMatch     = 1000
	scoreSubstringMatch = 500
	scorePerKeyword     = 50
	successRateWeight   = 2
	priorityWeight      = 10
)

// Match pairs a knowledge entry with its relevance score for one query.
type Match struct {
	Entry *models.KnowledgeEntry
	Score float64
}

// Matcher ranks active knowledge entries against a user question. Scoring
// is deterministic: the same entry set and query always produce the same
// ordered result.
type Matcher struct {
	store  storage.KnowledgeStore
	logger *zap.Logger
}

func NewMatcher(store storage.KnowledgeStore, logger *zap.Logger) *Matcher {
	return &Matcher{store: store, logger: logger}
}

func (m *Matcher) Match(ctx context.Context, query string, limit int) ([]Match, error) {
	entries, err := m.store.ListActiveKnowledge(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading knowledge entries: %v", err)
	}

	normalized := Normalize(query)
	queryKeywords := Keywords(query)

	var matches []Match
	for _, entry := range entries {
		score := baseScore(normalized, queryKeywords, entry)
		if score <= 0 {
			continue
		}
		score += successRateWeight * entry.SuccessRate()
		score += priorityWeight * float64(entry.Priority)
		matches = append(matches, Match{Entry: entry, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Entry.Priority != matches[j].Entry.Priority {
			return matches[i].Entry.Priority > matches[j].Entry.Priority
		}
		return matches[i].Entry.LastUsedAt.After(matches[j].Entry.LastUsedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func baseScore(normalizedQuery string, queryKeywords []string, entry *models.KnowledgeEntry) float64 {
	pattern := Normalize(entry.Pattern)
	if pattern == "" {
		return 0
	}
	if pattern == normalizedQuery {
		return scoreExactMatch
	}
	if strings.Contains(normalizedQuery, pattern) || strings.Contains(pattern, normalizedQuery) {
		return scoreSubstringMatch
	}

	overlap := 0
	for _, qw := range queryKeywords {
		for _, kw := range entry.Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(qw, kw) || strings.Contains(kw, qw) {
				overlap++
				break
			}
		}
	}
	return float64(scorePerKeyword * overlap)
}
