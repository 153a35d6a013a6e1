package analyzer

import (
	"strings"
	"unicode"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// RuleBased is the keyword extraction path, used when no completion
// provider is configured. Deliberately conservative: it reports medium
// confidence at best so ambiguity handling still engages.
func (a *Analyzer) RuleBased(input string, cctx model.ConversationContext) *model.IntentAnalysis {
	lower := strings.ToLower(input)

	intent := "unknown"
	switch {
	case containsAny(lower, "total", "sum", "calculate"):
		intent = "calculate_total"
	case containsAny(lower, "claims", "get claims", "show claims"):
		intent = "get_claims"
	case containsAny(lower, "find", "search", "look for", "patient"):
		intent = "query_patients"
	}

	analysis := &model.IntentAnalysis{
		Intent:    intent,
		Entities:  make(map[string]model.EntityRef),
		Reasoning: "rule-based extraction",
	}

	// A capitalized word after "for", "by" or "patient" is likely a name.
	words := strings.Fields(input)
	for i, word := range words {
		w := strings.ToLower(word)
		if w != "for" && w != "by" && w != "patient" {
			continue
		}
		if i+1 >= len(words) {
			continue
		}
		next := strings.Trim(words[i+1], ".,!?")
		if next == "" || !unicode.IsUpper(rune(next[0])) {
			continue
		}
		analysis.Entities["patient_name"] = model.EntityRef{
			Kind:       model.EntityKindPatient,
			Value:      next,
			Confidence: 0.50,
		}
		break
	}

	if intent == "unknown" {
		analysis.Confidence = 0.30
	} else {
		analysis.Confidence = 0.60
	}

	return analysis
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
