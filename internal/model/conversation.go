// Package model defines data structures for the clarification engine.
package model

import (
	"time"
)

// LifecycleState represents where a conversation is in its processing loop.
type LifecycleState string

const (
	StateIdle                  LifecycleState = "idle"
	StateAnalyzing             LifecycleState = "analyzing"
	StateExecuting             LifecycleState = "executing"
	StateAwaitingClarification LifecycleState = "awaiting_clarification"
	StateResolved              LifecycleState = "resolved"
	StateFailed                LifecycleState = "failed"
)

// Outcome is the terminal disposition of a turn.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"
)

// Preference is a learned user preference with a usage counter.
type Preference struct {
	Value     string    `json:"value"`
	Frequency int       `json:"frequency"`
	LastUsed  time.Time `json:"last_used"`
}

// Conversation represents the durable state of one conversation.
// Turn numbers are contiguous and strictly increasing starting at 1.
type Conversation struct {
	ID          string                `json:"id"`
	TenantID    string                `json:"tenant_id"`
	UserID      string                `json:"user_id"`
	State       LifecycleState        `json:"state"`
	Turns       []Turn                `json:"turns,omitempty"`
	Preferences map[string]Preference `json:"preferences,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Turn records one user input and its resolution. A turn is immutable once
// its outcome is set.
type Turn struct {
	Number    int    `json:"number"`
	UserInput string `json:"user_input"`

	Analysis      *IntentAnalysis        `json:"analysis,omitempty"`
	Clarification *ClarificationRequest  `json:"clarification,omitempty"`
	Reply         *ClarificationResponse `json:"reply,omitempty"`

	Answer     string  `json:"answer,omitempty"`
	Outcome    Outcome `json:"outcome,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`
	Note       string  `json:"note,omitempty"`
	Error      string  `json:"error,omitempty"`
	Iterations int     `json:"iterations"`
	Rounds     int     `json:"rounds"`

	CreatedAt time.Time `json:"created_at"`

	// Populated on read from the durable store.
	Sequence uint64 `json:"sequence,omitempty"`
}

// Resolved reports whether the turn has reached a terminal disposition.
func (t *Turn) Resolved() bool {
	return t.Outcome != ""
}

// QueryRequest is the request to submit new user input to a conversation.
type QueryRequest struct {
	Input string `json:"input"`
}

// QueryResponse is the result of processing a query: either a final answer
// or a pending clarification request.
type QueryResponse struct {
	ConversationID string                `json:"conversation_id"`
	Turn           int                   `json:"turn"`
	State          LifecycleState        `json:"state"`
	Answer         string                `json:"answer,omitempty"`
	Degraded       bool                  `json:"degraded,omitempty"`
	Note           string                `json:"note,omitempty"`
	Clarification  *ClarificationRequest `json:"clarification,omitempty"`
}

// ListTurnsResponse is the response for listing a conversation's turn log.
type ListTurnsResponse struct {
	Turns        []Turn `json:"turns"`
	HasMore      bool   `json:"has_more"`
	LastSequence uint64 `json:"last_sequence"`
}
