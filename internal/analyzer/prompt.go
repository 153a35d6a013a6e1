package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// buildPrompt assembles the extraction prompt: the capability list, the
// serialized conversation context and the extraction schema.
func buildPrompt(input string, cctx model.ConversationContext, capabilities []string) string {
	var b strings.Builder

	b.WriteString("Analyze this user request and extract structured information.\n\n")
	fmt.Fprintf(&b, "User Request: %q\n\n", input)

	b.WriteString("Available Tools:\n")
	for i, cap := range capabilities {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cap)
	}

	b.WriteString(`
Extract:
1. Primary Intent: Which tool should be used?
2. Entities: What values are provided?
   - patient_name: Full or partial patient name
   - patient_id: Exact patient ID (e.g., PAT-12345)
   - claim_id: Exact claim ID (e.g., CLM-12345-001)
   - count: Requested result or export count
   - status: Claim status (pending, approved, denied)
3. Confidence: How confident are you in the analysis? (0.0-1.0)
   - High (0.90+): Exact ID or very specific value
   - Medium (0.60-0.90): Clear entity but might have multiple matches
   - Low (<0.60): Vague or ambiguous
`)

	fmt.Fprintf(&b, "\nContext from previous conversation: %s\n", serializeContext(cctx))

	b.WriteString(`
Respond in this JSON format:
{
    "intent": "query_patients|get_claims|calculate_total",
    "entities": [
        {"type": "patient_name", "value": "John", "confidence": 0.45}
    ],
    "confidence": 0.45,
    "reasoning": "Brief explanation"
}

Focus on detecting ambiguity. Names like "John" without an ID are likely ambiguous.`)

	return b.String()
}

// buildStrictPrompt is the retry prompt: same extraction task, with an
// explicit instruction to emit only the JSON object.
func buildStrictPrompt(input string, cctx model.ConversationContext, capabilities []string) string {
	return buildPrompt(input, cctx, capabilities) +
		"\n\nIMPORTANT: Respond with ONLY the JSON object. No markdown fences, no prose, no explanation outside the JSON."
}

func serializeContext(cctx model.ConversationContext) string {
	if len(cctx.BoundEntities) == 0 && len(cctx.Parameters) == 0 &&
		cctx.Intent == "" && len(cctx.History) == 0 {
		return "{}"
	}
	data, err := json.Marshal(cctx)
	if err != nil {
		return "{}"
	}
	return string(data)
}
