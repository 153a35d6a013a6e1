package model

import (
	"time"
)

// AmbiguityCategory is one of the four clarification categories.
type AmbiguityCategory string

const (
	CategoryEntityDisambiguation  AmbiguityCategory = "entity_disambiguation"
	CategoryParameterElicitation  AmbiguityCategory = "parameter_elicitation"
	CategoryConstraintNegotiation AmbiguityCategory = "constraint_negotiation"
	CategoryScopeGuidance         AmbiguityCategory = "scope_guidance"
)

// UIType selects how the frontend renders a clarification request. The
// values are part of the wire contract with the demo frontend.
type UIType string

const (
	UITypeRadio        UIType = "radio"
	UITypeCheckbox     UIType = "checkbox"
	UITypeText         UIType = "text"
	UITypeGuidedForm   UIType = "guided_form"
	UITypeRadioDetails UIType = "radio_details"
	UITypeActionList   UIType = "action_list"
)

// Option is one selectable choice in a clarification request.
type Option struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Sublabel    string            `json:"sublabel,omitempty"`
	Tradeoff    string            `json:"tradeoff,omitempty"`
	Relevance   float64           `json:"relevance,omitempty"`
	Recommended bool              `json:"recommended,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// GuidedField is one field in a guided multi-field elicitation form.
type GuidedField struct {
	Name        string   `json:"name"`
	Question    string   `json:"question"`
	Type        string   `json:"type"`
	Suggestions []string `json:"suggestions,omitempty"`
	Default     string   `json:"default,omitempty"`
	Required    bool     `json:"required"`
}

// ClarificationRequest is presented to the user when analysis cannot
// proceed. It is consumed exactly once by a matching response and never
// reused across turns. The question/ui_type/options field names are the
// wire contract shared with the demo frontend.
type ClarificationRequest struct {
	ConversationID string            `json:"conversation_id"`
	Turn           int               `json:"turn"`
	Category       AmbiguityCategory `json:"category"`
	Question       string            `json:"question"`
	UIType         UIType            `json:"ui_type"`
	EntityName     string            `json:"entity_name,omitempty"`
	EntityKind     EntityKind        `json:"entity_kind,omitempty"`
	Constraint     string            `json:"constraint,omitempty"`
	Options        []Option          `json:"options,omitempty"`
	Fields         []GuidedField     `json:"fields,omitempty"`
	Suggestions    []string          `json:"suggestions,omitempty"`
	AllowMultiple  bool              `json:"allow_multiple"`
	CreatedAt      time.Time         `json:"created_at"`
}

// HasOption reports whether the request offers the given option id.
func (r *ClarificationRequest) HasOption(id string) bool {
	for _, o := range r.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// UserSelection carries what the user chose or typed in response to a
// clarification request (the user_selection wire field).
type UserSelection struct {
	SelectedIDs []string          `json:"selected_ids,omitempty"`
	Value       string            `json:"value,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// ClarificationResponse is the user's answer to a pending request. Its
// category must match the pending request's category.
type ClarificationResponse struct {
	ConversationID string            `json:"conversation_id"`
	Turn           int               `json:"turn"`
	Category       AmbiguityCategory `json:"category"`
	Selection      UserSelection     `json:"user_selection"`
	OriginalIntent string            `json:"original_intent,omitempty"`
}

// SelectedID returns the single selected option id, or empty if none.
func (r *ClarificationResponse) SelectedID() string {
	if len(r.Selection.SelectedIDs) == 0 {
		return ""
	}
	return r.Selection.SelectedIDs[0]
}
