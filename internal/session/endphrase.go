package session

import (
	"strings"
	"unicode"
)

// EndPhraseMatcher decides whether an utterance ends the conversation.
// Matching is whole-word: a phrase matches only as a standalone token
// run, never as a substring of a longer word, so a room called
// "saybye" does not end the session when the end phrase is "bye".
type EndPhraseMatcher struct {
	phrases [][]string
}

// NewEndPhraseMatcher compiles the configured phrase list. Empty or
// whitespace-only phrases are ignored.
func NewEndPhraseMatcher(phrases []string) *EndPhraseMatcher {
	m := &EndPhraseMatcher{}
	for _, phrase := range phrases {
		tokens := tokenize(phrase)
		if len(tokens) > 0 {
			m.phrases = append(m.phrases, tokens)
		}
	}
	return m
}

// Match reports whether text contains any end phrase as a contiguous
// run of whole tokens.
func (m *EndPhraseMatcher) Match(text string) bool {
	if len(m.phrases) == 0 {
		return false
	}
	words := tokenize(text)
	for _, phrase := range m.phrases {
		if containsRun(words, phrase) {
			return true
		}
	}
	return false
}

func containsRun(words, phrase []string) bool {
	if len(phrase) == 0 || len(words) < len(phrase) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenize lowercases and splits on whitespace, trimming punctuation
// from token edges so "goodbye!" matches "goodbye".
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		token := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
