// Package classifier maps detected ambiguity conditions to the single
// clarification category to pursue.
package classifier

import (
	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// Classify picks the category for an analysis using a fixed precedence,
// checked in order with first match winning:
//
//  1. constraint conflict: a hard limit violation must surface before the
//     user picks among entities that would still violate it
//  2. scope problem: low confidence or unrecognized intent changes the whole
//     interaction, not just a field
//  3. ambiguous entity references
//  4. missing required parameters
//
// The result is deterministic regardless of condition ordering. An analysis
// with no conditions classifies as scope guidance; callers gate on the
// condition set before building a clarification.
func Classify(analysis *model.IntentAnalysis) model.AmbiguityCategory {
	if analysis.HasCondition(model.ConditionConstraintConflict) {
		return model.CategoryConstraintNegotiation
	}
	if analysis.HasCondition(model.ConditionOutOfScope) {
		return model.CategoryScopeGuidance
	}
	if analysis.HasCondition(model.ConditionEntityAmbiguous) {
		return model.CategoryEntityDisambiguation
	}
	if analysis.HasCondition(model.ConditionMissingParameter) {
		return model.CategoryParameterElicitation
	}
	return model.CategoryScopeGuidance
}
