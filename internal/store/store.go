// Package store persists conversation state: an append-only turn log per
// conversation plus learned-preference counters, both under per-id atomic
// update.
package store

import (
	"context"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// Store is the conversation store collaborator.
type Store interface {
	// Create persists a new conversation record.
	Create(ctx context.Context, conv *model.Conversation) error

	// Get returns the conversation with its turn log.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// AppendTurn appends a turn to the conversation's log and returns its
	// sequence. Appends for one conversation id are atomic; a turn record
	// is never lost to a concurrent writer.
	AppendTurn(ctx context.Context, id string, turn model.Turn) (uint64, error)

	// UpdateState transitions the conversation's lifecycle state.
	UpdateState(ctx context.Context, id string, state model.LifecycleState) error

	// IncrementPreference records a learned preference, incrementing its
	// frequency counter under optimistic concurrency: on conflict the
	// increment retries, it is never lost.
	IncrementPreference(ctx context.Context, id, key, value string) error

	// ListTurns pages through the turn log after a sequence.
	ListTurns(ctx context.Context, id string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error)
}
