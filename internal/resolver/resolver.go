// Package resolver resolves free-text entity references against the entity
// store and ranks the candidates for disambiguation.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// Record is one row returned by the entity store.
type Record struct {
	ID           string
	FullName     string
	FirstName    string
	LastName     string
	LastActivity time.Time
	Metadata     map[string]string
}

// EntityStore is the external lookup collaborator.
type EntityStore interface {
	// FindByNameFragment returns all records whose name contains the
	// fragment, case-insensitively. No match is an empty list, not an error.
	FindByNameFragment(ctx context.Context, fragment string, kind model.EntityKind) ([]Record, error)

	// FindByID returns the record with the exact id, if it exists.
	FindByID(ctx context.Context, id string, kind model.EntityKind) (*Record, error)
}

// Resolver ranks entity store matches and caps the candidate list so the
// clarification option UI stays bounded.
type Resolver struct {
	store      EntityStore
	maxOptions int
}

// New creates a resolver. maxOptions bounds the returned candidate list.
func New(store EntityStore, maxOptions int) *Resolver {
	if maxOptions <= 0 {
		maxOptions = 10
	}
	return &Resolver{store: store, maxOptions: maxOptions}
}

// Resolve returns ranked candidates for a name fragment. Ordering is
// relevance descending, then last activity descending, then id ascending,
// truncated to the configured cap. Read-only; identical calls against an
// unchanged store return identical results.
func (r *Resolver) Resolve(ctx context.Context, fragment string, kind model.EntityKind, cctx model.ConversationContext) ([]model.Candidate, error) {
	records, err := r.store.FindByNameFragment(ctx, fragment, kind)
	if err != nil {
		return nil, fmt.Errorf("entity lookup failed: %w", err)
	}
	if len(records) == 0 {
		return []model.Candidate{}, nil
	}

	candidates := make([]model.Candidate, 0, len(records))
	for _, rec := range records {
		c := model.Candidate{
			ID:        rec.ID,
			Label:     rec.FullName,
			Relevance: relevance(rec, fragment, cctx),
			Metadata:  rec.Metadata,
		}
		if !rec.LastActivity.IsZero() {
			c.LastActivity = rec.LastActivity.Format("2006-01-02")
			c.LastActivityAt = rec.LastActivity
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance > candidates[j].Relevance
		}
		if !candidates[i].LastActivityAt.Equal(candidates[j].LastActivityAt) {
			return candidates[i].LastActivityAt.After(candidates[j].LastActivityAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > r.maxOptions {
		candidates = candidates[:r.maxOptions]
	}

	return candidates, nil
}

// Validation is the result of checking whether an entity value exists and
// is unambiguous.
type Validation struct {
	Valid   bool
	Unique  bool
	Matches []model.Candidate
}

// Validate checks an entity value before execution: an exact id must exist,
// a name fragment must resolve to exactly one candidate to be unique.
func (r *Resolver) Validate(ctx context.Context, kind model.EntityKind, value string, cctx model.ConversationContext) (Validation, error) {
	if rec, err := r.store.FindByID(ctx, value, kind); err != nil {
		return Validation{}, fmt.Errorf("entity lookup failed: %w", err)
	} else if rec != nil {
		return Validation{
			Valid:  true,
			Unique: true,
			Matches: []model.Candidate{{
				ID:        rec.ID,
				Label:     rec.FullName,
				Relevance: 1.0,
			}},
		}, nil
	}

	matches, err := r.Resolve(ctx, value, kind, cctx)
	if err != nil {
		return Validation{}, err
	}
	return Validation{
		Valid:   len(matches) > 0,
		Unique:  len(matches) == 1,
		Matches: matches,
	}, nil
}

// relevance scores a record against the search term. Exact name matches
// outrank partial ones, recent activity adds a graded boost, and the
// previously selected entity gets a context boost.
func relevance(rec Record, term string, cctx model.ConversationContext) float64 {
	score := 0.5

	full := strings.ToLower(rec.FullName)
	first := strings.ToLower(rec.FirstName)
	last := strings.ToLower(rec.LastName)
	search := strings.ToLower(strings.TrimSpace(term))

	switch {
	case full == search:
		score += 0.3
	case first == search || last == search:
		score += 0.25
	case strings.Contains(full, search):
		score += 0.15
	}

	if !rec.LastActivity.IsZero() {
		days := int(time.Since(rec.LastActivity).Hours() / 24)
		switch {
		case days < 30:
			score += 0.2
		case days < 90:
			score += 0.1
		case days < 180:
			score += 0.05
		}
	}

	if cctx.LastSelectedID != "" && cctx.LastSelectedID == rec.ID {
		score += 0.15
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
