package store

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// MemoryStore is an in-memory conversation store (would be replaced with
// the JetStream-backed store in production). The mutex gives the same
// per-id atomicity the durable store provides through CAS.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	sequence      uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
	}
}

// Create persists a new conversation record.
func (s *MemoryStore) Create(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conv
	if c.Preferences == nil {
		c.Preferences = make(map[string]model.Preference)
	}
	s.conversations[c.ID] = &c
	return nil
}

// Get returns a copy of the conversation with its turn log.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, model.ErrConversationNotFound
	}

	out := *conv
	out.Turns = append([]model.Turn(nil), conv.Turns...)
	out.Preferences = make(map[string]model.Preference, len(conv.Preferences))
	for k, v := range conv.Preferences {
		out.Preferences[k] = v
	}
	return &out, nil
}

// AppendTurn appends a turn and returns its sequence.
func (s *MemoryStore) AppendTurn(ctx context.Context, id string, turn model.Turn) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return 0, model.ErrConversationNotFound
	}

	s.sequence++
	turn.Sequence = s.sequence
	conv.Turns = append(conv.Turns, turn)
	conv.UpdatedAt = time.Now()
	return turn.Sequence, nil
}

// UpdateState transitions the conversation's lifecycle state.
func (s *MemoryStore) UpdateState(ctx context.Context, id string, state model.LifecycleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.ErrConversationNotFound
	}
	conv.State = state
	conv.UpdatedAt = time.Now()
	return nil
}

// IncrementPreference records a learned preference, bumping its frequency.
func (s *MemoryStore) IncrementPreference(ctx context.Context, id, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.ErrConversationNotFound
	}

	pref := conv.Preferences[key]
	if pref.Value == value {
		pref.Frequency++
	} else {
		pref = model.Preference{Value: value, Frequency: 1}
	}
	pref.LastUsed = time.Now()
	conv.Preferences[key] = pref
	conv.UpdatedAt = time.Now()
	return nil
}

// ListTurns pages through the turn log after a sequence.
func (s *MemoryStore) ListTurns(ctx context.Context, id string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, 0, false, model.ErrConversationNotFound
	}

	if limit <= 0 {
		limit = 50
	}

	var out []model.Turn
	var last uint64
	more := false
	for _, turn := range conv.Turns {
		if turn.Sequence <= afterSequence {
			continue
		}
		if len(out) == limit {
			more = true
			break
		}
		out = append(out, turn)
		last = turn.Sequence
	}
	return out, last, more, nil
}
