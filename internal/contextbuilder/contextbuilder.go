// Package contextbuilder assembles a deterministic, prompt-ready context
// block from conversation history, retrieved memories, and retrieved
// knowledge. It is a pure function with no I/O.
//
// Grounded on original_source/core/brain/context_builder.py
// (build_context_block), reproducing its exact section order, header
// text, and half-to-even relevance-score rounding.
package contextbuilder

import (
	"fmt"
	"math"
	"strings"

	"github.com/commubrain/core/internal/model"
)

const knowledgeTruncateAt = 500

// HistoryTurn is the minimal view of a prior turn the builder needs; it is
// intentionally narrower than model.Turn since the builder has no use for
// token counts or metadata.
type HistoryTurn struct {
	UserMessage string
	BotResponse string
}

// ScoredMemory is a retrieved memory plus an optional similarity score.
// HasSimilarity distinguishes "no score" from a genuine zero score, since
// the relevance clause is omitted entirely when a score is absent (§4.6).
type ScoredMemory struct {
	UserMessage   string
	BotResponse   string
	Similarity    float64
	HasSimilarity bool
}

// ScoredKnowledge is a retrieved knowledge chunk plus an optional
// similarity score and its source label.
type ScoredKnowledge struct {
	Text          string
	Source        string
	Similarity    float64
	HasSimilarity bool
}

// Build assembles the context block. maxMemoryItems and maxKnowledgeItems
// cap how many of memories/knowledge are rendered (the caller is expected
// to have already ranked them; Build takes the first N of each slice).
func Build(userMessage string, history []HistoryTurn, memories []ScoredMemory, knowledge []ScoredKnowledge, maxMemoryItems, maxKnowledgeItems int) string {
	var parts []string

	if len(history) > 0 {
		var lines []string
		lines = append(lines, "=== RECENT CONVERSATION HISTORY ===")
		for _, turn := range history {
			if turn.UserMessage != "" {
				lines = append(lines, "**USER**: "+turn.UserMessage)
			}
			if turn.BotResponse != "" {
				lines = append(lines, "**ASSISTANT**: "+turn.BotResponse)
			}
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(memories) > 0 {
		n := maxMemoryItems
		if n > len(memories) {
			n = len(memories)
		}
		var lines []string
		lines = append(lines, "=== RELEVANT LONG-TERM MEMORIES ===")
		for i := 0; i < n; i++ {
			mem := memories[i]
			header := fmt.Sprintf("**Memory %d**%s:", i+1, relevanceClause(mem.Similarity, mem.HasSimilarity))
			lines = append(lines, header)
			lines = append(lines, "  User asked: "+mem.UserMessage)
			lines = append(lines, "  Assistant replied: "+mem.BotResponse)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(knowledge) > 0 {
		n := maxKnowledgeItems
		if n > len(knowledge) {
			n = len(knowledge)
		}
		var lines []string
		lines = append(lines, "=== RELEVANT KNOWLEDGE ===")
		for i := 0; i < n; i++ {
			k := knowledge[i]
			header := fmt.Sprintf("**Knowledge %d**%s, source: %s:", i+1, relevanceClause(k.Similarity, k.HasSimilarity), k.Source)
			lines = append(lines, header)
			lines = append(lines, "  "+truncateKnowledge(k.Text))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	parts = append(parts, "=== CURRENT USER MESSAGE ===\n"+userMessage)

	return strings.Join(parts, "\n\n")
}

func relevanceClause(similarity float64, has bool) string {
	if !has {
		return ""
	}
	return fmt.Sprintf(" (relevance: %s)", formatHalfToEven(similarity))
}

// formatHalfToEven renders f to two decimal places, rounding f*100 to an
// integer with round-half-to-even (banker's rounding), matching Python's
// round() semantics.
func formatHalfToEven(f float64) string {
	scaled := f * 100
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	return fmt.Sprintf("%.2f", rounded/100)
}

func truncateKnowledge(text string) string {
	runes := []rune(text)
	if len(runes) <= knowledgeTruncateAt {
		return text
	}
	return string(runes[:knowledgeTruncateAt]) + "…"
}

// MemoriesFromModel adapts raw model.Memory results (already ranked and
// sliced by the caller) into the builder's ScoredMemory view.
func MemoriesFromModel(items []model.Memory) []ScoredMemory {
	out := make([]ScoredMemory, len(items))
	for i, m := range items {
		out[i] = ScoredMemory{UserMessage: m.UserMessage, BotResponse: m.BotResponse, Similarity: m.RelevanceScore, HasSimilarity: true}
	}
	return out
}

// KnowledgeFromModel adapts raw model.Knowledge results into the builder's
// ScoredKnowledge view.
func KnowledgeFromModel(items []model.Knowledge) []ScoredKnowledge {
	out := make([]ScoredKnowledge, len(items))
	for i, k := range items {
		out[i] = ScoredKnowledge{Text: k.Content, Source: k.Source, Similarity: k.RelevanceScore, HasSimilarity: true}
	}
	return out
}
