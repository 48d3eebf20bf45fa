package contextbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4 — Context builder shape.
func TestBuildShapeScenario(t *testing.T) {
	history := []HistoryTurn{{UserMessage: "Q", BotResponse: "A"}}
	memories := []ScoredMemory{{UserMessage: "Q'", BotResponse: "A'", Similarity: 0.873, HasSimilarity: true}}
	longText := strings.Repeat("lorem", 24) // 120 chars
	knowledge := []ScoredKnowledge{{Text: longText, Source: "s.txt", Similarity: 0.412, HasSimilarity: true}}

	out := Build("Hi", history, memories, knowledge, 1, 1)

	require.Contains(t, out, "=== RECENT CONVERSATION HISTORY ===")
	require.Contains(t, out, "=== RELEVANT LONG-TERM MEMORIES ===")
	require.Contains(t, out, "=== RELEVANT KNOWLEDGE ===")
	require.Contains(t, out, "=== CURRENT USER MESSAGE ===\nHi")
	assert.Contains(t, out, "(relevance: 0.87)")
	assert.Contains(t, out, "(relevance: 0.41)")
	assert.Contains(t, out, longText) // untruncated, <500 chars
	assert.True(t, strings.HasSuffix(out, "=== CURRENT USER MESSAGE ===\nHi"))

	idxHistory := strings.Index(out, "=== RECENT CONVERSATION HISTORY ===")
	idxMemories := strings.Index(out, "=== RELEVANT LONG-TERM MEMORIES ===")
	idxKnowledge := strings.Index(out, "=== RELEVANT KNOWLEDGE ===")
	idxCurrent := strings.Index(out, "=== CURRENT USER MESSAGE ===")
	assert.True(t, idxHistory < idxMemories)
	assert.True(t, idxMemories < idxKnowledge)
	assert.True(t, idxKnowledge < idxCurrent)
}

func TestBuildOmitsEmptySections(t *testing.T) {
	out := Build("just a message", nil, nil, nil, 3, 2)
	assert.NotContains(t, out, "=== RECENT CONVERSATION HISTORY ===")
	assert.NotContains(t, out, "=== RELEVANT LONG-TERM MEMORIES ===")
	assert.NotContains(t, out, "=== RELEVANT KNOWLEDGE ===")
	assert.Equal(t, "=== CURRENT USER MESSAGE ===\njust a message", out)
}

func TestBuildOmitsRelevanceClauseWhenAbsent(t *testing.T) {
	memories := []ScoredMemory{{UserMessage: "u", BotResponse: "b", HasSimilarity: false}}
	out := Build("hi", nil, memories, nil, 1, 1)
	assert.Contains(t, out, "**Memory 1**:")
	assert.NotContains(t, out, "relevance")
}

func TestBuildTruncatesKnowledgeOver500Chars(t *testing.T) {
	longText := strings.Repeat("x", 600)
	knowledge := []ScoredKnowledge{{Text: longText, Source: "s.txt", HasSimilarity: false}}
	out := Build("hi", nil, nil, knowledge, 1, 1)
	assert.Contains(t, out, strings.Repeat("x", 500)+"…")
	assert.NotContains(t, out, strings.Repeat("x", 501))
}

func TestBuildCapsToMaxItems(t *testing.T) {
	memories := []ScoredMemory{
		{UserMessage: "u1", BotResponse: "b1", Similarity: 0.9, HasSimilarity: true},
		{UserMessage: "u2", BotResponse: "b2", Similarity: 0.8, HasSimilarity: true},
	}
	out := Build("hi", nil, memories, nil, 1, 1)
	assert.Contains(t, out, "**Memory 1**")
	assert.NotContains(t, out, "**Memory 2**")
}

func TestBuildOmitsEmptyHistoryLines(t *testing.T) {
	history := []HistoryTurn{{UserMessage: "only user", BotResponse: ""}}
	out := Build("hi", history, nil, nil, 1, 1)
	assert.Contains(t, out, "**USER**: only user")
	assert.NotContains(t, out, "**ASSISTANT**:")
}

func TestFormatHalfToEvenRounding(t *testing.T) {
	assert.Equal(t, "0.12", formatHalfToEven(0.125-1e-12)) // below midpoint rounds down
	assert.Equal(t, "1.00", formatHalfToEven(1.0))
	assert.Equal(t, "0.50", formatHalfToEven(0.5))
}
