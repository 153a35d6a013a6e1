package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

func newConversation(id string) *model.Conversation {
	now := time.Now()
	return &model.Conversation{
		ID:        id,
		TenantID:  "tenant-1",
		UserID:    "user-1",
		State:     model.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, model.ErrConversationNotFound) {
		t.Fatalf("Get missing = %v, want ErrConversationNotFound", err)
	}

	if err := s.Create(ctx, newConversation("conv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.UpdateState(ctx, "conv-1", model.StateAnalyzing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	conv, err := s.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.State != model.StateAnalyzing {
		t.Errorf("state = %v, want analyzing", conv.State)
	}
}

func TestMemoryStoreAppendTurn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newConversation("conv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var sequences []uint64
	for i := 1; i <= 3; i++ {
		seq, err := s.AppendTurn(ctx, "conv-1", model.Turn{
			Number:    i,
			UserInput: fmt.Sprintf("input %d", i),
			Outcome:   model.OutcomeResolved,
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		sequences = append(sequences, seq)
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] <= sequences[i-1] {
			t.Errorf("sequences not strictly increasing: %v", sequences)
		}
	}

	conv, err := s.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(conv.Turns))
	}
	for i, turn := range conv.Turns {
		if turn.Number != i+1 {
			t.Errorf("turn %d has number %d", i, turn.Number)
		}
	}
}

func TestMemoryStoreListTurnsPaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newConversation("conv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := s.AppendTurn(ctx, "conv-1", model.Turn{Number: i}); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, last, more, err := s.ListTurns(ctx, "conv-1", 0, 2)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 || !more {
		t.Fatalf("first page: %d turns, more=%v", len(turns), more)
	}

	turns, _, more, err = s.ListTurns(ctx, "conv-1", last, 10)
	if err != nil {
		t.Fatalf("ListTurns page 2: %v", err)
	}
	if len(turns) != 3 || more {
		t.Errorf("second page: %d turns, more=%v, want 3 and false", len(turns), more)
	}
	if turns[0].Number != 3 {
		t.Errorf("second page starts at turn %d, want 3", turns[0].Number)
	}
}

func TestMemoryStoreIncrementPreference(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newConversation("conv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementPreference(ctx, "conv-1", "entity:patient_name", "PAT-12345"); err != nil {
			t.Fatalf("IncrementPreference: %v", err)
		}
	}
	conv, _ := s.Get(ctx, "conv-1")
	if pref := conv.Preferences["entity:patient_name"]; pref.Frequency != 3 || pref.Value != "PAT-12345" {
		t.Errorf("preference = %+v, want frequency 3", pref)
	}

	// A different value resets the counter.
	if err := s.IncrementPreference(ctx, "conv-1", "entity:patient_name", "PAT-12346"); err != nil {
		t.Fatalf("IncrementPreference: %v", err)
	}
	conv, _ = s.Get(ctx, "conv-1")
	if pref := conv.Preferences["entity:patient_name"]; pref.Frequency != 1 || pref.Value != "PAT-12346" {
		t.Errorf("preference after value change = %+v, want frequency 1", pref)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newConversation("conv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AppendTurn(ctx, "conv-1", model.Turn{Number: 1}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	first, _ := s.Get(ctx, "conv-1")
	first.Turns[0].Number = 99
	first.Preferences["poison"] = model.Preference{Value: "x"}

	second, _ := s.Get(ctx, "conv-1")
	if second.Turns[0].Number != 1 {
		t.Error("turn mutation leaked into the store")
	}
	if _, ok := second.Preferences["poison"]; ok {
		t.Error("preference mutation leaked into the store")
	}
}
