package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/analyzer"
	"github.com/capitalize-ai/clarification-engine/internal/builder"
	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
	"github.com/capitalize-ai/clarification-engine/internal/store"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

const convID = "3f8a2c4e-1b6d-4a9f-8c3e-5d7b9a1f2e4c"

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

// fakeClient replays canned completions or errors in order.
type fakeClient struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return nil }

// newTestController wires the controller over the in-memory store, the demo
// tool set and rule-based analysis unless a client is given.
func newTestController(t *testing.T, client llm.Client, st store.Store, cfg Config) *Controller {
	t.Helper()

	entities := resolver.NewMemoryStore()
	claims := tool.SeedDemoData(entities)
	tools := tool.NewRegistry()
	tool.RegisterDemoTools(tools, entities, claims, 0)

	log := testLogger()
	an := analyzer.New(client, resolver.New(entities, 10), tools, analyzer.Config{
		ConfidenceHigh: 0.90,
		ConfidenceLow:  0.60,
		LLMTimeout:     time.Second,
	}, log)
	bl := builder.New(client, tools, time.Second, log)

	return New(st, an, bl, tools, nil, cfg, log)
}

func TestProcessQueryResolvesDirectly(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.State != model.StateResolved {
		t.Fatalf("state = %v, want resolved (clarification: %+v)", resp.State, resp.Clarification)
	}
	if !strings.Contains(resp.Answer, "1 claims") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Degraded {
		t.Error("direct resolution flagged degraded")
	}

	conv, err := st.Get(ctx, convID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(conv.Turns))
	}
	if conv.Turns[0].Outcome != model.OutcomeResolved || conv.Turns[0].Rounds != 0 {
		t.Errorf("turn = %+v", conv.Turns[0])
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Jennifer")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.State != model.StateAwaitingClarification {
		t.Fatalf("state = %v, want awaiting_clarification", resp.State)
	}
	req := resp.Clarification
	if req == nil || req.Category != model.CategoryEntityDisambiguation {
		t.Fatalf("clarification = %+v", req)
	}
	if len(req.Options) != 2 {
		t.Fatalf("got %d options, want 2 (Jennifer Smith, Jennifer Smythe)", len(req.Options))
	}

	final, err := c.HandleClarification(ctx, convID, &model.ClarificationResponse{
		ConversationID: convID,
		Turn:           req.Turn,
		Category:       req.Category,
		Selection:      model.UserSelection{SelectedIDs: []string{"PAT-12345"}},
	})
	if err != nil {
		t.Fatalf("HandleClarification: %v", err)
	}
	if final.State != model.StateResolved {
		t.Fatalf("state after clarification = %v (clarification: %+v)", final.State, final.Clarification)
	}
	if !strings.Contains(final.Answer, "3 claims") {
		t.Errorf("answer = %q", final.Answer)
	}

	conv, _ := st.Get(ctx, convID)
	if len(conv.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(conv.Turns))
	}
	if conv.Turns[0].Rounds != 1 {
		t.Errorf("rounds = %d, want 1", conv.Turns[0].Rounds)
	}
	reply := conv.Turns[0].Reply
	if reply == nil || reply.SelectedID() != "PAT-12345" {
		t.Errorf("turn record dropped the clarification response: %+v", reply)
	}
	pref := conv.Preferences["entity:patient_name"]
	if pref.Value != "PAT-12345" || pref.Frequency != 1 {
		t.Errorf("preference = %+v", pref)
	}
}

func TestScopeGuidanceSelectionConverges(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Colorless green ideas sleep furiously")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.Clarification == nil || resp.Clarification.Category != model.CategoryScopeGuidance {
		t.Fatalf("clarification = %+v, want scope_guidance", resp.Clarification)
	}

	// Every capability option must name a runnable tool; the ids double as
	// the redirect target.
	var sawGetClaims bool
	for _, o := range resp.Clarification.Options {
		if o.ID == "rephrase" {
			continue
		}
		if !c.tools.Known(o.ID) {
			t.Errorf("scope option id %q is not a registered tool", o.ID)
		}
		if o.ID == "get_claims" {
			sawGetClaims = true
		}
	}
	if !sawGetClaims {
		t.Fatal("scope guidance did not offer get_claims")
	}

	// Picking an offered capability redirects the intent: the next round
	// must ask for the tool's parameters, not re-open the scope question.
	resp, err = c.HandleClarification(ctx, convID, &model.ClarificationResponse{
		ConversationID: convID,
		Category:       model.CategoryScopeGuidance,
		Selection:      model.UserSelection{SelectedIDs: []string{"get_claims"}},
	})
	if err != nil {
		t.Fatalf("scope selection: %v", err)
	}
	if resp.State != model.StateAwaitingClarification {
		t.Fatalf("state = %v, want awaiting", resp.State)
	}
	if resp.Clarification.Category != model.CategoryParameterElicitation {
		t.Fatalf("category after redirect = %v, want parameter_elicitation (question %q)",
			resp.Clarification.Category, resp.Clarification.Question)
	}

	final, err := c.HandleClarification(ctx, convID, &model.ClarificationResponse{
		ConversationID: convID,
		Category:       model.CategoryParameterElicitation,
		Selection:      model.UserSelection{Fields: map[string]string{"patient_id": "PAT-12345"}},
	})
	if err != nil {
		t.Fatalf("parameter fill: %v", err)
	}
	if final.State != model.StateResolved || final.Degraded {
		t.Fatalf("final = state %v degraded %v, want clean resolution", final.State, final.Degraded)
	}
	if !strings.Contains(final.Answer, "3 claims") {
		t.Errorf("answer = %q", final.Answer)
	}

	conv, _ := st.Get(ctx, convID)
	if len(conv.Turns) != 1 || conv.Turns[0].Rounds != 2 {
		t.Errorf("turns = %+v", conv.Turns)
	}
}

func TestStaleClarificationRepresented(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Jennifer")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	pending := resp.Clarification

	stale, err := c.HandleClarification(ctx, convID, &model.ClarificationResponse{
		ConversationID: convID,
		Category:       model.CategoryParameterElicitation,
		Selection:      model.UserSelection{Fields: map[string]string{"status": "pending"}},
	})
	if !errors.Is(err, model.ErrCategoryMismatch) {
		t.Fatalf("err = %v, want ErrCategoryMismatch", err)
	}
	if stale == nil || stale.Clarification == nil || stale.Clarification.Category != pending.Category {
		t.Fatalf("pending request not re-presented: %+v", stale)
	}

	// The original request still resolves afterwards.
	final, err := c.HandleClarification(ctx, convID, &model.ClarificationResponse{
		ConversationID: convID,
		Category:       pending.Category,
		Selection:      model.UserSelection{SelectedIDs: []string{"PAT-12347"}},
	})
	if err != nil {
		t.Fatalf("HandleClarification after stale: %v", err)
	}
	if final.State != model.StateResolved {
		t.Errorf("state = %v, want resolved", final.State)
	}
}

func TestRoundCapResolvesDegraded(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{RoundCap: 2})
	ctx := context.Background()

	// Nonsense input loops on scope guidance until the cap trips.
	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Colorless green ideas sleep furiously")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.State != model.StateAwaitingClarification {
		t.Fatalf("state = %v, want awaiting", resp.State)
	}
	if resp.Clarification.Category != model.CategoryScopeGuidance {
		t.Fatalf("category = %v, want scope_guidance", resp.Clarification.Category)
	}

	rephrase := &model.ClarificationResponse{
		ConversationID: convID,
		Category:       model.CategoryScopeGuidance,
		Selection:      model.UserSelection{SelectedIDs: []string{"rephrase"}},
	}

	// Round 1 of 2: still under the cap, asks again.
	resp, err = c.HandleClarification(ctx, convID, rephrase)
	if err != nil {
		t.Fatalf("round 1: %v", err)
	}
	if resp.State != model.StateAwaitingClarification {
		t.Fatalf("round 1 state = %v, want awaiting", resp.State)
	}

	// Round 2 hits the cap: degraded resolution, no further question.
	resp, err = c.HandleClarification(ctx, convID, rephrase)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if resp.State != model.StateResolved || !resp.Degraded {
		t.Fatalf("round 2 = state %v degraded %v, want resolved+degraded", resp.State, resp.Degraded)
	}
	if resp.Clarification != nil {
		t.Error("cap-excess response still carries a clarification")
	}

	conv, _ := st.Get(ctx, convID)
	if len(conv.Turns) != 1 || conv.Turns[0].Outcome != model.OutcomeDegraded {
		t.Errorf("turns = %+v", conv.Turns)
	}
	if conv.Turns[0].Rounds != 2 {
		t.Errorf("rounds = %d, want 2", conv.Turns[0].Rounds)
	}
}

func TestAbandon(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	if _, err := c.Abandon(ctx, convID); !errors.Is(err, model.ErrNoPendingClarification) {
		t.Fatalf("Abandon without pending = %v, want ErrNoPendingClarification", err)
	}

	if _, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Jennifer"); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}

	resp, err := c.Abandon(ctx, convID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if resp.State != model.StateResolved || !resp.Degraded {
		t.Errorf("abandon = state %v degraded %v", resp.State, resp.Degraded)
	}

	conv, _ := st.Get(ctx, convID)
	if len(conv.Turns) != 1 || conv.Turns[0].Outcome != model.OutcomeDegraded {
		t.Errorf("turns = %+v", conv.Turns)
	}

	if _, err := c.Abandon(ctx, convID); !errors.Is(err, model.ErrNoPendingClarification) {
		t.Errorf("second Abandon = %v, want ErrNoPendingClarification", err)
	}
}

func TestNewInputSupersedesPending(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	if _, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Jennifer"); err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe")
	if err != nil {
		t.Fatalf("second ProcessQuery: %v", err)
	}
	if resp.State != model.StateResolved {
		t.Fatalf("state = %v, want resolved", resp.State)
	}
	if resp.Turn != 2 {
		t.Errorf("turn = %d, want 2", resp.Turn)
	}

	conv, _ := st.Get(ctx, convID)
	if len(conv.Turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(conv.Turns))
	}
	if conv.Turns[0].Outcome != model.OutcomeDegraded {
		t.Errorf("superseded turn outcome = %v, want degraded", conv.Turns[0].Outcome)
	}
	if conv.Turns[1].Outcome != model.OutcomeResolved {
		t.Errorf("new turn outcome = %v, want resolved", conv.Turns[1].Outcome)
	}
}

func TestCollaboratorUnavailableFailsTurn(t *testing.T) {
	down := errors.New("connection refused")
	st := store.NewMemoryStore()
	c := newTestController(t, &fakeClient{errs: []error{down, down}}, st, Config{})
	ctx := context.Background()

	resp, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.State != model.StateFailed {
		t.Fatalf("state = %v, want failed", resp.State)
	}
	if resp.Answer == "" {
		t.Error("failed turn has no apologetic answer")
	}

	conv, _ := st.Get(ctx, convID)
	if conv.State != model.StateFailed {
		t.Errorf("conversation state = %v, want failed", conv.State)
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Outcome != model.OutcomeFailed {
		t.Errorf("turns = %+v", conv.Turns)
	}
}

func TestMalformedAnalysisDegrades(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, &fakeClient{replies: []string{"nonsense", "more nonsense"}}, st, Config{})

	resp, err := c.ProcessQuery(context.Background(), convID, "tenant-1", "user-1", "Show me claims")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if resp.State != model.StateResolved || !resp.Degraded {
		t.Errorf("malformed analysis = state %v degraded %v, want resolved+degraded", resp.State, resp.Degraded)
	}
}

// gatedStore blocks the first Get until released, keeping a ProcessQuery in
// flight while a competing request arrives.
type gatedStore struct {
	store.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.Store.Get(ctx, id)
}

func TestConcurrentRequestRejectedBusy(t *testing.T) {
	gs := &gatedStore{
		Store:   store.NewMemoryStore(),
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	c := newTestController(t, nil, gs, Config{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe")
		done <- err
	}()

	<-gs.entered
	if _, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe"); !errors.Is(err, model.ErrConversationBusy) {
		t.Errorf("concurrent request = %v, want ErrConversationBusy", err)
	}
	close(gs.gate)

	if err := <-done; err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// The lock releases once the first request completes.
	if _, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe"); err != nil {
		t.Errorf("request after release failed: %v", err)
	}
}

func TestListTurns(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestController(t, nil, st, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ProcessQuery(ctx, convID, "tenant-1", "user-1", "Show me claims for Smythe"); err != nil {
			t.Fatalf("ProcessQuery %d: %v", i, err)
		}
	}

	page, err := c.ListTurns(ctx, convID, 0, 2)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(page.Turns) != 2 || !page.HasMore {
		t.Fatalf("first page: %d turns, more=%v", len(page.Turns), page.HasMore)
	}

	rest, err := c.ListTurns(ctx, convID, page.LastSequence, 10)
	if err != nil {
		t.Fatalf("ListTurns rest: %v", err)
	}
	if len(rest.Turns) != 1 || rest.HasMore {
		t.Errorf("second page: %d turns, more=%v", len(rest.Turns), rest.HasMore)
	}
}
