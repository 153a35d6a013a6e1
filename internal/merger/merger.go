// Package merger folds a user's clarification selection back into the
// conversation context so re-analysis can proceed with the ambiguity
// resolved.
package merger

import (
	"fmt"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// PreferenceUpdate records a learned preference to persist; the store
// increments its frequency counter under optimistic concurrency.
type PreferenceUpdate struct {
	Key   string
	Value string
}

// Merge validates a clarification response against the pending request and
// produces the enriched context for re-analysis, plus the learned
// preference the selection implies. The prior context is not mutated.
//
// Fails with ErrCategoryMismatch when the response's category or turn does
// not match the pending request (a response carrying turn 0 is taken as
// unkeyed and matched by category alone), and ErrSelectionRequired when a
// required selection or field is absent.
func Merge(pending *model.ClarificationRequest, resp *model.ClarificationResponse, prior model.ConversationContext) (*model.EnrichedContext, *PreferenceUpdate, error) {
	if pending == nil {
		return nil, nil, model.ErrNoPendingClarification
	}
	if resp.Category != pending.Category {
		return nil, nil, fmt.Errorf("%w: pending %s, got %s",
			model.ErrCategoryMismatch, pending.Category, resp.Category)
	}
	if resp.Turn != 0 && resp.Turn != pending.Turn {
		return nil, nil, fmt.Errorf("%w: response keyed to turn %d, pending turn %d",
			model.ErrCategoryMismatch, resp.Turn, pending.Turn)
	}

	switch pending.Category {
	case model.CategoryEntityDisambiguation:
		return mergeEntity(pending, resp, prior)
	case model.CategoryParameterElicitation:
		return mergeParameters(pending, resp, prior)
	case model.CategoryConstraintNegotiation:
		return mergeMitigation(pending, resp, prior)
	case model.CategoryScopeGuidance:
		return mergeScope(pending, resp, prior)
	default:
		return nil, nil, fmt.Errorf("%w: unknown category %s", model.ErrCategoryMismatch, pending.Category)
	}
}

func mergeEntity(pending *model.ClarificationRequest, resp *model.ClarificationResponse, prior model.ConversationContext) (*model.EnrichedContext, *PreferenceUpdate, error) {
	selected := resp.SelectedID()
	if selected == "" {
		return nil, nil, fmt.Errorf("%w: entity disambiguation needs a selected option", model.ErrSelectionRequired)
	}
	if !pending.HasOption(selected) {
		return nil, nil, fmt.Errorf("%w: option %q was not offered", model.ErrSelectionRequired, selected)
	}

	enriched := &model.EnrichedContext{
		Context:    prior.WithBoundEntity(pending.EntityName, selected),
		Resolved:   pending.Category,
		ResolvedID: selected,
	}
	pref := &PreferenceUpdate{
		Key:   "entity:" + pending.EntityName,
		Value: selected,
	}
	return enriched, pref, nil
}

func mergeParameters(pending *model.ClarificationRequest, resp *model.ClarificationResponse, prior model.ConversationContext) (*model.EnrichedContext, *PreferenceUpdate, error) {
	next := prior
	var pref *PreferenceUpdate

	for _, field := range pending.Fields {
		value, ok := resp.Selection.Fields[field.Name]
		if !ok || value == "" {
			value = field.Default
		}
		if value == "" {
			if field.Required {
				return nil, nil, fmt.Errorf("%w: field %q", model.ErrSelectionRequired, field.Name)
			}
			continue
		}
		next = next.WithParameter(field.Name, value)
		// The last filled field wins the preference slot; repeat fills
		// bump its frequency in the store.
		pref = &PreferenceUpdate{Key: "param:" + field.Name, Value: value}
	}

	enriched := &model.EnrichedContext{
		Context:  next,
		Resolved: pending.Category,
	}
	return enriched, pref, nil
}

func mergeMitigation(pending *model.ClarificationRequest, resp *model.ClarificationResponse, prior model.ConversationContext) (*model.EnrichedContext, *PreferenceUpdate, error) {
	selected := resp.SelectedID()
	if selected == "" {
		return nil, nil, fmt.Errorf("%w: constraint negotiation needs a selected mitigation", model.ErrSelectionRequired)
	}
	if !pending.HasOption(selected) {
		return nil, nil, fmt.Errorf("%w: mitigation %q was not offered", model.ErrSelectionRequired, selected)
	}

	enriched := &model.EnrichedContext{
		Context:    prior.WithMitigation(selected),
		Resolved:   pending.Category,
		ResolvedID: selected,
	}
	pref := &PreferenceUpdate{
		Key:   "mitigation:" + pending.Constraint,
		Value: selected,
	}
	return enriched, pref, nil
}

func mergeScope(pending *model.ClarificationRequest, resp *model.ClarificationResponse, prior model.ConversationContext) (*model.EnrichedContext, *PreferenceUpdate, error) {
	selected := resp.SelectedID()
	if selected == "" {
		return nil, nil, fmt.Errorf("%w: scope guidance needs a selected action", model.ErrSelectionRequired)
	}

	next := prior
	if selected != "rephrase" {
		next = next.WithIntent(selected)
	}
	if resp.Selection.Value != "" {
		next = next.WithHistory(resp.Selection.Value)
	}

	enriched := &model.EnrichedContext{
		Context:    next,
		Resolved:   pending.Category,
		ResolvedID: selected,
	}
	pref := &PreferenceUpdate{
		Key:   "action:" + string(pending.Category),
		Value: selected,
	}
	return enriched, pref, nil
}
