package model

import (
	"errors"
)

// Domain errors. Everything here is handled inside the controller boundary;
// handlers map them to HTTP statuses, nothing escapes as a raw failure.
var (
	// ErrMalformedAnalysis means the completion collaborator's output could
	// not be parsed into an IntentAnalysis, after the stricter-prompt retry.
	ErrMalformedAnalysis = errors.New("malformed analysis response")

	// ErrCategoryMismatch means a clarification response does not match the
	// pending request's category (a stale clarification).
	ErrCategoryMismatch = errors.New("clarification category mismatch")

	// ErrConversationBusy means a request arrived while another turn for the
	// same conversation id was in flight.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrCollaboratorUnavailable means an external collaborator stayed
	// unreachable beyond its retry budget.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrConversationNotFound means the conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNoPendingClarification means a response arrived for a conversation
	// that is not awaiting clarification.
	ErrNoPendingClarification = errors.New("no pending clarification")

	// ErrSelectionRequired means a clarification response omitted a required
	// selection.
	ErrSelectionRequired = errors.New("selection required")
)
