package knowledge

import "strings"

const minKeywordLength = 3

// Normalize canonicalizes a question for matching and for keying recurring
// questions: lowercase, punctuation stripped, whitespace collapsed.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Map(func(r rune) rune {
		switch r {
		case '?', '!', '.', ',':
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// Keywords tokenizes a normalized question, keeping only words long enough
// to carry meaning.
func Keywords(text string) []string {
	var words []string
	for _, word := range strings.Fields(Normalize(text)) {
		if len([]rune(word)) > minKeywordLength {
			words = append(words, word)
		}
	}
	return words
}
