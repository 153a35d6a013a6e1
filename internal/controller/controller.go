// Package controller drives the conversation state machine: it owns the
// analyze/execute/clarify loop, the single suspension point at
// awaiting_clarification, and the round and iteration budgets.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/analyzer"
	"github.com/capitalize-ai/clarification-engine/internal/builder"
	"github.com/capitalize-ai/clarification-engine/internal/classifier"
	"github.com/capitalize-ai/clarification-engine/internal/merger"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/store"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
	"github.com/capitalize-ai/clarification-engine/pkg/metrics"
)

// Presenter pushes clarification requests to the user interface.
type Presenter interface {
	Present(ctx context.Context, req *model.ClarificationRequest) error
}

// Config holds the controller's policy knobs.
type Config struct {
	// RoundCap bounds clarification rounds per turn. At the cap the turn
	// resolves degraded instead of asking again.
	RoundCap int

	// IterationCap bounds the tool reasoning loop per turn.
	IterationCap int

	// ToolRetries bounds attempts per tool execution.
	ToolRetries int

	// ToolTimeout bounds each tool execution attempt.
	ToolTimeout time.Duration
}

// pendingTurn is the suspended state of a turn awaiting clarification. It
// lives only in process memory; the turn record is appended to the store
// once the turn reaches a terminal outcome.
type pendingTurn struct {
	turn    int
	input   string
	request *model.ClarificationRequest
	reply   *model.ClarificationResponse
	cctx    model.ConversationContext
	rounds  int
}

// Controller coordinates the analyzer, classifier, builder, merger, tool
// registry and store into the per-turn processing loop.
type Controller struct {
	store     store.Store
	analyzer  *analyzer.Analyzer
	builder   *builder.Builder
	tools     *tool.Registry
	presenter Presenter
	cfg       Config
	logger    *logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	pending  map[string]*pendingTurn
}

// New creates a controller. presenter may be nil when no push channel is
// configured; clarification requests are then delivered over HTTP only.
func New(st store.Store, an *analyzer.Analyzer, bl *builder.Builder, tools *tool.Registry, presenter Presenter, cfg Config, log *logger.Logger) *Controller {
	if cfg.RoundCap <= 0 {
		cfg.RoundCap = 5
	}
	if cfg.IterationCap <= 0 {
		cfg.IterationCap = 5
	}
	if cfg.ToolRetries <= 0 {
		cfg.ToolRetries = 3
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	return &Controller{
		store:     st,
		analyzer:  an,
		builder:   bl,
		tools:     tools,
		presenter: presenter,
		cfg:       cfg,
		logger:    log,
		inflight:  make(map[string]struct{}),
		pending:   make(map[string]*pendingTurn),
	}
}

// acquire marks the conversation as having a request in flight. A second
// request for the same id is rejected rather than queued.
func (c *Controller) acquire(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		metrics.ConversationsBusyTotal.Inc()
		return model.ErrConversationBusy
	}
	c.inflight[id] = struct{}{}
	return nil
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// ProcessQuery runs one user input through the analysis loop. It returns
// either a final answer or a pending clarification request. The
// conversation is created on first use.
func (c *Controller) ProcessQuery(ctx context.Context, conversationID, tenantID, userID, input string) (*model.QueryResponse, error) {
	if err := c.acquire(conversationID); err != nil {
		return nil, err
	}
	defer c.release(conversationID)

	conv, err := c.ensureConversation(ctx, conversationID, tenantID, userID)
	if err != nil {
		return nil, err
	}

	// New input supersedes an unanswered clarification: the suspended turn
	// closes degraded and the fresh input starts its own turn.
	c.mu.Lock()
	p := c.pending[conversationID]
	delete(c.pending, conversationID)
	c.mu.Unlock()

	turnNumber := len(conv.Turns) + 1
	if p != nil {
		metrics.RecordClarification(string(p.request.Category), false)
		c.finalize(ctx, conv, model.Turn{
			Number:        p.turn,
			UserInput:     p.input,
			Clarification: p.request,
			Reply:         p.reply,
			Outcome:       model.OutcomeDegraded,
			Degraded:      true,
			Answer:        "Setting the earlier question aside.",
			Note:          "superseded by new input",
			Rounds:        p.rounds,
			CreatedAt:     time.Now(),
		}, model.StateResolved)
		turnNumber = p.turn + 1
	}

	cctx := model.ConversationContext{ConversationID: conversationID}
	return c.advance(ctx, conv, turnNumber, input, cctx, 0, nil)
}

// HandleClarification merges a clarification response into the suspended
// turn and resumes the analysis loop.
func (c *Controller) HandleClarification(ctx context.Context, conversationID string, resp *model.ClarificationResponse) (*model.QueryResponse, error) {
	if err := c.acquire(conversationID); err != nil {
		return nil, err
	}
	defer c.release(conversationID)

	c.mu.Lock()
	p := c.pending[conversationID]
	c.mu.Unlock()
	if p == nil {
		return nil, model.ErrNoPendingClarification
	}

	enriched, prefUpdate, err := merger.Merge(p.request, resp, p.cctx)
	if err != nil {
		if errors.Is(err, model.ErrCategoryMismatch) {
			// Stale clarification: the pending request stands and is pushed
			// again so the UI recovers.
			c.logger.Warn("stale clarification response",
				zap.String("conversation_id", conversationID),
				zap.String("pending_category", string(p.request.Category)),
				zap.String("got_category", string(resp.Category)))
			c.present(ctx, p.request)
			return &model.QueryResponse{
				ConversationID: conversationID,
				Turn:           p.turn,
				State:          model.StateAwaitingClarification,
				Clarification:  p.request,
			}, err
		}
		return nil, err
	}

	metrics.RecordClarification(string(p.request.Category), true)

	if prefUpdate != nil {
		if perr := c.store.IncrementPreference(ctx, conversationID, prefUpdate.Key, prefUpdate.Value); perr != nil {
			c.logger.Warn("failed to record preference",
				zap.String("conversation_id", conversationID),
				zap.String("key", prefUpdate.Key), zap.Error(perr))
		}
	}

	c.mu.Lock()
	delete(c.pending, conversationID)
	c.mu.Unlock()

	conv, err := c.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.advance(ctx, conv, p.turn, p.input, enriched.Context, p.rounds+1, resp)
}

// Abandon closes the suspended turn with a degraded resolution.
func (c *Controller) Abandon(ctx context.Context, conversationID string) (*model.QueryResponse, error) {
	if err := c.acquire(conversationID); err != nil {
		return nil, err
	}
	defer c.release(conversationID)

	c.mu.Lock()
	p := c.pending[conversationID]
	delete(c.pending, conversationID)
	c.mu.Unlock()
	if p == nil {
		return nil, model.ErrNoPendingClarification
	}

	conv, err := c.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	metrics.RecordClarification(string(p.request.Category), false)
	answer := "Okay, setting that aside. Ask again with more detail whenever you're ready."
	c.finalize(ctx, conv, model.Turn{
		Number:        p.turn,
		UserInput:     p.input,
		Clarification: p.request,
		Reply:         p.reply,
		Outcome:       model.OutcomeDegraded,
		Degraded:      true,
		Answer:        answer,
		Note:          "clarification abandoned",
		Rounds:        p.rounds,
		CreatedAt:     time.Now(),
	}, model.StateResolved)

	return &model.QueryResponse{
		ConversationID: conversationID,
		Turn:           p.turn,
		State:          model.StateResolved,
		Answer:         answer,
		Degraded:       true,
		Note:           "clarification abandoned",
	}, nil
}

// GetConversation returns the conversation with its turn log.
func (c *Controller) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return c.store.Get(ctx, id)
}

// ListTurns pages through the conversation's turn log.
func (c *Controller) ListTurns(ctx context.Context, id string, afterSequence uint64, limit int) (*model.ListTurnsResponse, error) {
	turns, last, more, err := c.store.ListTurns(ctx, id, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	return &model.ListTurnsResponse{Turns: turns, HasMore: more, LastSequence: last}, nil
}

// advance runs one analysis pass and either executes, suspends on a
// clarification, or closes the turn degraded at the round cap. reply is the
// clarification response that produced this pass, nil on a fresh input; it
// rides along so the terminal turn record keeps what the user answered.
func (c *Controller) advance(ctx context.Context, conv *model.Conversation, turn int, input string, cctx model.ConversationContext, rounds int, reply *model.ClarificationResponse) (*model.QueryResponse, error) {
	log := c.logger.WithConversation(conv.ID, turn)

	c.updateState(ctx, conv.ID, model.StateAnalyzing)

	started := time.Now()
	analysis, err := c.analyzer.Analyze(ctx, input, cctx)
	metrics.AnalysisDuration.WithLabelValues("analyze").Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, model.ErrCollaboratorUnavailable):
		log.Error("analysis collaborator unavailable", zap.Error(err))
		answer := "I'm sorry, I can't process requests right now. Please try again in a moment."
		c.finalize(ctx, conv, model.Turn{
			Number:    turn,
			UserInput: input,
			Reply:     reply,
			Outcome:   model.OutcomeFailed,
			Answer:    answer,
			Error:     err.Error(),
			Rounds:    rounds,
			CreatedAt: time.Now(),
		}, model.StateFailed)
		return &model.QueryResponse{
			ConversationID: conv.ID,
			Turn:           turn,
			State:          model.StateFailed,
			Answer:         answer,
		}, nil
	case errors.Is(err, model.ErrMalformedAnalysis):
		log.Warn("analysis stayed malformed after retry", zap.Error(err))
		answer := "I couldn't work out what you're asking for. Could you rephrase with a bit more detail?"
		c.finalize(ctx, conv, model.Turn{
			Number:    turn,
			UserInput: input,
			Reply:     reply,
			Outcome:   model.OutcomeDegraded,
			Degraded:  true,
			Answer:    answer,
			Note:      "analysis unparseable",
			Rounds:    rounds,
			CreatedAt: time.Now(),
		}, model.StateResolved)
		return &model.QueryResponse{
			ConversationID: conv.ID,
			Turn:           turn,
			State:          model.StateResolved,
			Answer:         answer,
			Degraded:       true,
			Note:           "analysis unparseable",
		}, nil
	default:
		return nil, err
	}

	if analysis.Confidence >= c.analyzer.ConfidenceHigh() && len(analysis.Conditions) == 0 {
		return c.executeTurn(ctx, conv, turn, input, analysis, cctx, rounds, reply)
	}

	if rounds >= c.cfg.RoundCap {
		log.Info("round cap reached, resolving degraded",
			zap.Int("rounds", rounds), zap.Float64("confidence", analysis.Confidence))
		note := "clarification round cap reached"
		answer := degradedSummary(analysis)
		c.finalize(ctx, conv, model.Turn{
			Number:    turn,
			UserInput: input,
			Analysis:  analysis,
			Reply:     reply,
			Outcome:   model.OutcomeDegraded,
			Degraded:  true,
			Answer:    answer,
			Note:      note,
			Rounds:    rounds,
			CreatedAt: time.Now(),
		}, model.StateResolved)
		return &model.QueryResponse{
			ConversationID: conv.ID,
			Turn:           turn,
			State:          model.StateResolved,
			Answer:         answer,
			Degraded:       true,
			Note:           note,
		}, nil
	}

	category := classifier.Classify(analysis)
	req := c.builder.Build(ctx, category, analysis, conv.Preferences, conv.ID, turn)
	c.present(ctx, req)

	c.mu.Lock()
	c.pending[conv.ID] = &pendingTurn{
		turn:    turn,
		input:   input,
		request: req,
		reply:   reply,
		cctx:    cctx,
		rounds:  rounds,
	}
	c.mu.Unlock()

	c.updateState(ctx, conv.ID, model.StateAwaitingClarification)
	log.Info("awaiting clarification",
		zap.String("category", string(category)), zap.Int("round", rounds+1))

	return &model.QueryResponse{
		ConversationID: conv.ID,
		Turn:           turn,
		State:          model.StateAwaitingClarification,
		Clarification:  req,
	}, nil
}

// executeTurn runs the tool loop and closes the turn.
func (c *Controller) executeTurn(ctx context.Context, conv *model.Conversation, turn int, input string, analysis *model.IntentAnalysis, cctx model.ConversationContext, rounds int, reply *model.ClarificationResponse) (*model.QueryResponse, error) {
	log := c.logger.WithConversation(conv.ID, turn)
	c.updateState(ctx, conv.ID, model.StateExecuting)

	started := time.Now()
	answer, iterations, execErr := c.execute(ctx, analysis, cctx)
	metrics.AnalysisDuration.WithLabelValues("execute").Observe(time.Since(started).Seconds())

	record := model.Turn{
		Number:     turn,
		UserInput:  input,
		Analysis:   analysis,
		Reply:      reply,
		Iterations: iterations,
		Rounds:     rounds,
		CreatedAt:  time.Now(),
	}
	resp := &model.QueryResponse{
		ConversationID: conv.ID,
		Turn:           turn,
		State:          model.StateResolved,
	}

	if execErr != nil {
		log.Warn("tool execution degraded", zap.String("intent", analysis.Intent), zap.Error(execErr))
		record.Outcome = model.OutcomeDegraded
		record.Degraded = true
		record.Note = "tool execution incomplete"
		record.Error = execErr.Error()
		if answer == "" {
			answer = fmt.Sprintf("I understood you want to %s, but I couldn't complete it: %v",
				strings.ReplaceAll(analysis.Intent, "_", " "), execErr)
		}
		record.Answer = answer
		resp.Answer = answer
		resp.Degraded = true
		resp.Note = record.Note
	} else {
		record.Outcome = model.OutcomeResolved
		record.Answer = answer
		resp.Answer = answer
	}

	c.finalize(ctx, conv, record, model.StateResolved)
	return resp, nil
}

// finalize appends the terminal turn record, transitions state and records
// turn metrics.
func (c *Controller) finalize(ctx context.Context, conv *model.Conversation, turn model.Turn, state model.LifecycleState) {
	if _, err := c.store.AppendTurn(ctx, conv.ID, turn); err != nil {
		c.logger.Error("failed to append turn",
			zap.String("conversation_id", conv.ID), zap.Int("turn", turn.Number), zap.Error(err))
	}
	c.updateState(ctx, conv.ID, state)
	metrics.RecordTurn(conv.TenantID, string(turn.Outcome), turn.Rounds)
}

func (c *Controller) updateState(ctx context.Context, id string, state model.LifecycleState) {
	if err := c.store.UpdateState(ctx, id, state); err != nil {
		c.logger.Warn("failed to update conversation state",
			zap.String("conversation_id", id), zap.String("state", string(state)), zap.Error(err))
	}
}

func (c *Controller) present(ctx context.Context, req *model.ClarificationRequest) {
	if c.presenter == nil {
		return
	}
	if err := c.presenter.Present(ctx, req); err != nil {
		c.logger.Warn("failed to push clarification request",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
	}
}

func (c *Controller) ensureConversation(ctx context.Context, id, tenantID, userID string) (*model.Conversation, error) {
	conv, err := c.store.Get(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, model.ErrConversationNotFound) {
		return nil, err
	}

	now := time.Now()
	conv = &model.Conversation{
		ID:          id,
		TenantID:    tenantID,
		UserID:      userID,
		State:       model.StateIdle,
		Preferences: make(map[string]model.Preference),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cerr := c.store.Create(ctx, conv); cerr != nil {
		return nil, cerr
	}
	return conv, nil
}

// degradedSummary states what was understood and what stayed unresolved,
// so the user gets something actionable instead of a failure.
func degradedSummary(analysis *model.IntentAnalysis) string {
	var b strings.Builder
	if analysis.Intent != "" && analysis.Intent != "unknown" {
		fmt.Fprintf(&b, "I understood you want to %s, but I couldn't pin down everything needed",
			strings.ReplaceAll(analysis.Intent, "_", " "))
	} else {
		b.WriteString("I couldn't pin down what you're asking for")
	}

	var open []string
	for _, cond := range analysis.Conditions {
		switch cond.Kind {
		case model.ConditionEntityAmbiguous:
			open = append(open, fmt.Sprintf("which %q you meant", cond.Entity))
		case model.ConditionMissingParameter:
			open = append(open, fmt.Sprintf("a value for %q", cond.Parameter))
		case model.ConditionConstraintConflict:
			open = append(open, fmt.Sprintf("how to handle the %s limit", cond.Constraint))
		case model.ConditionOutOfScope:
			open = append(open, "a request I can act on")
		}
	}
	if len(open) > 0 {
		fmt.Fprintf(&b, ": still missing %s", strings.Join(open, ", "))
	}
	b.WriteString(". Please start a new question with those details.")
	return b.String()
}
