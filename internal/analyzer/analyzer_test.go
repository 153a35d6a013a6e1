package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

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

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestAnalyzer(t *testing.T, client llm.Client) *Analyzer {
	t.Helper()

	entities := resolver.NewMemoryStore()
	claims := tool.SeedDemoData(entities)
	tools := tool.NewRegistry()
	tool.RegisterDemoTools(tools, entities, claims, 0)

	return New(client, resolver.New(entities, 10), tools, Config{
		ConfidenceHigh: 0.90,
		ConfidenceLow:  0.60,
		LLMTimeout:     time.Second,
	}, testLogger())
}

func TestAnalyzeResolvedEntityPromotes(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"get_claims","confidence":0.8,"entities":[{"type":"patient_name","value":"Smythe","confidence":0.8}]}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "claims for Smythe", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got.Conditions) != 0 {
		t.Fatalf("unexpected conditions: %+v", got.Conditions)
	}
	if got.Confidence < 0.90 {
		t.Errorf("fully resolved analysis not promoted: confidence %v", got.Confidence)
	}
	if id := got.Entities["patient_name"].ResolvedID; id != "PAT-12347" {
		t.Errorf("resolved id = %q, want PAT-12347", id)
	}
}

func TestAnalyzeAmbiguousEntityClampsConfidence(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"get_claims","confidence":0.95,"entities":[{"type":"patient_name","value":"Jen","confidence":0.9}]}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "claims for Jen", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	cond, ok := got.Condition(model.ConditionEntityAmbiguous)
	if !ok {
		t.Fatalf("no entity_ambiguous condition: %+v", got.Conditions)
	}
	if len(cond.Candidates) != 3 {
		t.Errorf("got %d candidates, want 3", len(cond.Candidates))
	}
	// Conditions present means confidence must sit below the high
	// threshold, whatever the collaborator claimed.
	if got.Confidence >= 0.90 {
		t.Errorf("confidence %v not clamped below high threshold", got.Confidence)
	}
}

func TestAnalyzeBoundEntityShortCircuits(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"get_claims","confidence":0.8,"entities":[{"type":"patient_name","value":"Jen","confidence":0.8}]}`,
	}}
	a := newTestAnalyzer(t, client)
	cctx := model.ConversationContext{}.WithBoundEntity("patient_name", "PAT-12346")

	got, err := a.Analyze(context.Background(), "claims for Jen", cctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.HasCondition(model.ConditionEntityAmbiguous) {
		t.Errorf("bound entity still ambiguous: %+v", got.Conditions)
	}
	if id := got.Entities["patient_name"].ResolvedID; id != "PAT-12346" {
		t.Errorf("resolved id = %q, want bound PAT-12346", id)
	}
	if got.Confidence < 0.90 {
		t.Errorf("resolved analysis not promoted: confidence %v", got.Confidence)
	}
}

func TestAnalyzeUnknownIntentOutOfScope(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"book_flight","confidence":0.9}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "book me a flight", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.HasCondition(model.ConditionOutOfScope) {
		t.Errorf("unknown intent produced no out_of_scope condition: %+v", got.Conditions)
	}
}

func TestAnalyzeLowConfidenceOutOfScope(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"get_claims","confidence":0.3,"entities":[{"type":"patient_name","value":"PAT-12345","confidence":0.3}]}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "uh, claims maybe?", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.HasCondition(model.ConditionOutOfScope) {
		t.Errorf("low confidence produced no out_of_scope condition: %+v", got.Conditions)
	}
}

func TestAnalyzeMissingParameter(t *testing.T) {
	client := &fakeClient{replies: []string{
		`{"intent":"get_claims","confidence":0.85}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "show me the claims", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	cond, ok := got.Condition(model.ConditionMissingParameter)
	if !ok {
		t.Fatalf("no missing_parameter condition: %+v", got.Conditions)
	}
	if cond.Parameter != "patient_id" {
		t.Errorf("missing parameter = %q, want patient_id", cond.Parameter)
	}
}

func TestAnalyzeConstraintConflictAndMitigation(t *testing.T) {
	entities := resolver.NewMemoryStore()
	tool.SeedDemoData(entities)
	tools := tool.NewRegistry()
	tools.Register(tool.Spec{
		Name:     "get_claims",
		Required: []string{"patient_id"},
		Limits:   map[string]int{"count": 5},
	}, func(ctx context.Context, params map[string]string) (tool.Result, error) {
		return tool.Result{}, nil
	})

	reply := `{"intent":"get_claims","confidence":0.85,"entities":[
		{"type":"patient_name","value":"PAT-12345","confidence":0.9},
		{"type":"count","value":"10","confidence":0.9}]}`

	a := New(&fakeClient{replies: []string{reply}}, resolver.New(entities, 10), tools, Config{
		ConfidenceHigh: 0.90, ConfidenceLow: 0.60, LLMTimeout: time.Second,
	}, testLogger())

	got, err := a.Analyze(context.Background(), "10 claims for PAT-12345", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.HasCondition(model.ConditionConstraintConflict) {
		t.Fatalf("no constraint_conflict condition: %+v", got.Conditions)
	}

	// An accepted mitigation suppresses the re-detection on resume.
	a2 := New(&fakeClient{replies: []string{reply}}, resolver.New(entities, 10), tools, Config{
		ConfidenceHigh: 0.90, ConfidenceLow: 0.60, LLMTimeout: time.Second,
	}, testLogger())
	got, err = a2.Analyze(context.Background(), "10 claims for PAT-12345",
		model.ConversationContext{}.WithMitigation("partial_now"))
	if err != nil {
		t.Fatalf("Analyze with mitigation: %v", err)
	}
	if got.HasCondition(model.ConditionConstraintConflict) {
		t.Errorf("mitigated constraint re-detected: %+v", got.Conditions)
	}
}

func TestAnalyzeMalformedRetriesThenFails(t *testing.T) {
	client := &fakeClient{replies: []string{"not json at all", "still not json"}}
	a := newTestAnalyzer(t, client)

	_, err := a.Analyze(context.Background(), "claims", model.ConversationContext{})
	if !errors.Is(err, model.ErrMalformedAnalysis) {
		t.Fatalf("err = %v, want ErrMalformedAnalysis", err)
	}
	if client.calls != 2 {
		t.Errorf("collaborator called %d times, want 2 (strict retry)", client.calls)
	}
}

func TestAnalyzeMalformedThenRecovered(t *testing.T) {
	client := &fakeClient{replies: []string{
		"not json",
		`{"intent":"get_claims","confidence":0.85,"entities":[{"type":"patient_name","value":"Smythe","confidence":0.9}]}`,
	}}
	a := newTestAnalyzer(t, client)

	got, err := a.Analyze(context.Background(), "claims for Smythe", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Intent != "get_claims" {
		t.Errorf("intent = %q, want get_claims", got.Intent)
	}
}

func TestAnalyzeCollaboratorUnavailable(t *testing.T) {
	down := errors.New("connection refused")
	client := &fakeClient{errs: []error{down, down}}
	a := newTestAnalyzer(t, client)

	_, err := a.Analyze(context.Background(), "claims", model.ConversationContext{})
	if !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Fatalf("err = %v, want ErrCollaboratorUnavailable", err)
	}
}

func TestAnalyzeRuleBasedFallback(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	got, err := a.Analyze(context.Background(), "Show me claims for Jennifer", model.ConversationContext{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Intent != "get_claims" {
		t.Errorf("intent = %q, want get_claims", got.Intent)
	}
	if !got.HasCondition(model.ConditionEntityAmbiguous) {
		t.Errorf("Jennifer not ambiguous under rule-based extraction: %+v", got.Conditions)
	}
}
