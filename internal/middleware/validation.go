package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateQueryInput validates user input submitted to a conversation.
func ValidateQueryInput(input string) error {
	if len(input) == 0 {
		return errors.New("input cannot be empty")
	}
	if len(input) > 100000 { // ~100KB limit
		return errors.New("input exceeds maximum length")
	}
	if !utf8.ValidString(input) {
		return errors.New("input must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateSelection validates the selected option ids of a clarification
// response.
func ValidateSelection(ids []string) error {
	if len(ids) > 32 {
		return errors.New("too many selected options")
	}
	for _, id := range ids {
		if id == "" {
			return errors.New("selected option id cannot be empty")
		}
		if len(id) > 128 {
			return errors.New("selected option id exceeds maximum length")
		}
	}
	return nil
}
