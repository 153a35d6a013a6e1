package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// errMalformedJSON marks a parse failure, distinguishing it from transport
// failures for the retry policy.
var errMalformedJSON = errors.New("unparseable analysis JSON")

// rawAnalysis is the collaborator's extraction schema.
type rawAnalysis struct {
	Intent     string      `json:"intent"`
	Entities   []rawEntity `json:"entities"`
	Confidence *float64    `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

type rawEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseAnalysis decodes the collaborator's output into an IntentAnalysis.
// The output is never trusted as structurally valid: JSON is stripped out of
// optional markdown fences and required fields are checked.
func parseAnalysis(raw string) (*model.IntentAnalysis, error) {
	text := stripFences(strings.TrimSpace(raw))

	var decoded rawAnalysis
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedJSON, err)
	}
	if decoded.Intent == "" {
		return nil, fmt.Errorf("%w: missing intent field", errMalformedJSON)
	}

	analysis := &model.IntentAnalysis{
		Intent:    decoded.Intent,
		Entities:  make(map[string]model.EntityRef, len(decoded.Entities)),
		Reasoning: decoded.Reasoning,
	}

	var sum float64
	for _, e := range decoded.Entities {
		if e.Type == "" || e.Value == "" {
			continue
		}
		analysis.Entities[e.Type] = model.EntityRef{
			Kind:       kindFor(e.Type),
			Value:      e.Value,
			Confidence: e.Confidence,
		}
		sum += e.Confidence
	}

	switch {
	case decoded.Confidence != nil:
		analysis.Confidence = clamp01(*decoded.Confidence)
	case len(analysis.Entities) > 0:
		analysis.Confidence = clamp01(sum / float64(len(analysis.Entities)))
	default:
		analysis.Confidence = 0.5
	}

	return analysis, nil
}

// stripFences pulls JSON out of a ```json or ``` markdown block, or falls
// back to the outermost braces.
func stripFences(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// kindFor maps an extracted entity type to its entity kind. Non-entity
// parameter types (count, status, dates) stay keyed by their own name.
func kindFor(entityType string) model.EntityKind {
	switch {
	case strings.HasPrefix(entityType, "patient"):
		return model.EntityKindPatient
	case strings.HasPrefix(entityType, "claim"):
		return model.EntityKindClaim
	default:
		return model.EntityKind(entityType)
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
