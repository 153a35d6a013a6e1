package model

// ConversationContext is the immutable context passed through each analysis
// pass. Merging produces a new value; the durable store holds the only
// shared mutable state.
type ConversationContext struct {
	ConversationID string            `json:"conversation_id"`
	Intent         string            `json:"intent,omitempty"`
	BoundEntities  map[string]string `json:"bound_entities,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Mitigation     string            `json:"mitigation,omitempty"`
	LastSelectedID string            `json:"last_selected_id,omitempty"`
	History        []string          `json:"history,omitempty"`
}

// BoundEntity returns the bound candidate id for an entity name, if any.
func (c ConversationContext) BoundEntity(name string) (string, bool) {
	id, ok := c.BoundEntities[name]
	return id, ok
}

// WithBoundEntity returns a copy with the entity bound to a candidate id.
func (c ConversationContext) WithBoundEntity(name, id string) ConversationContext {
	out := c.clone()
	out.BoundEntities[name] = id
	out.LastSelectedID = id
	return out
}

// WithParameter returns a copy with the parameter filled.
func (c ConversationContext) WithParameter(name, value string) ConversationContext {
	out := c.clone()
	out.Parameters[name] = value
	return out
}

// WithMitigation returns a copy with the accepted constraint mitigation.
func (c ConversationContext) WithMitigation(id string) ConversationContext {
	out := c.clone()
	out.Mitigation = id
	return out
}

// WithIntent returns a copy redirected to a new intent.
func (c ConversationContext) WithIntent(intent string) ConversationContext {
	out := c.clone()
	out.Intent = intent
	return out
}

// WithHistory returns a copy with an entry appended to the history.
func (c ConversationContext) WithHistory(entry string) ConversationContext {
	out := c.clone()
	out.History = append(out.History, entry)
	return out
}

func (c ConversationContext) clone() ConversationContext {
	out := ConversationContext{
		ConversationID: c.ConversationID,
		Intent:         c.Intent,
		Mitigation:     c.Mitigation,
		LastSelectedID: c.LastSelectedID,
		BoundEntities:  make(map[string]string, len(c.BoundEntities)+1),
		Parameters:     make(map[string]string, len(c.Parameters)+1),
		History:        make([]string, len(c.History), len(c.History)+1),
	}
	for k, v := range c.BoundEntities {
		out.BoundEntities[k] = v
	}
	for k, v := range c.Parameters {
		out.Parameters[k] = v
	}
	copy(out.History, c.History)
	return out
}

// EnrichedContext is the result of merging a clarification response into the
// prior context. It is recomputed each round and fed back into re-analysis.
type EnrichedContext struct {
	Context    ConversationContext `json:"context"`
	Resolved   AmbiguityCategory   `json:"resolved"`
	ResolvedID string              `json:"resolved_id,omitempty"`
}
