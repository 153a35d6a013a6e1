package model

import (
	"time"
)

// EntityKind identifies the kind of entity a free-text reference points at.
type EntityKind string

const (
	EntityKindPatient EntityKind = "patient"
	EntityKindClaim   EntityKind = "claim"
)

// Candidate is a resolved entity match carrying a relevance score and
// recency metadata, ordered for clarification option lists. LastActivity is
// the display form; LastActivityAt keeps the full timestamp for ordering.
type Candidate struct {
	ID             string            `json:"id"`
	Label          string            `json:"label"`
	Relevance      float64           `json:"relevance"`
	LastActivity   string            `json:"last_activity,omitempty"`
	LastActivityAt time.Time         `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ConditionKind tags one detected ambiguity condition.
type ConditionKind string

const (
	ConditionEntityAmbiguous    ConditionKind = "entity_ambiguous"
	ConditionMissingParameter   ConditionKind = "missing_parameter"
	ConditionConstraintConflict ConditionKind = "constraint_conflict"
	ConditionOutOfScope         ConditionKind = "out_of_scope"
)

// Condition is one detected ambiguity with its supporting payload.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	Entity     string        `json:"entity,omitempty"`
	Candidates []Candidate   `json:"candidates,omitempty"`
	Parameter  string        `json:"parameter,omitempty"`
	Constraint string        `json:"constraint,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// EntityRef is an entity reference extracted from user input before
// resolution against the store.
type EntityRef struct {
	Kind       EntityKind `json:"kind"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	ResolvedID string     `json:"resolved_id,omitempty"`
}

// IntentAnalysis is the structured result of one analysis pass. It is
// recomputed on every pass and never persisted independently of its turn.
//
// Invariant: Confidence at or above the high threshold implies an empty
// condition set.
type IntentAnalysis struct {
	Intent        string               `json:"intent"`
	Entities      map[string]EntityRef `json:"entities,omitempty"`
	Confidence    float64              `json:"confidence"`
	Conditions    []Condition          `json:"conditions,omitempty"`
	MissingParams []string             `json:"missing_params,omitempty"`
	Reasoning     string               `json:"reasoning,omitempty"`
}

// HasCondition reports whether any condition of the given kind is present.
func (a *IntentAnalysis) HasCondition(kind ConditionKind) bool {
	for _, c := range a.Conditions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Condition returns the first condition of the given kind, if present.
func (a *IntentAnalysis) Condition(kind ConditionKind) (Condition, bool) {
	for _, c := range a.Conditions {
		if c.Kind == kind {
			return c, true
		}
	}
	return Condition{}, false
}
