// Package analyzer produces structured intent analyses from raw user input
// by delegating extraction to the text-completion collaborator and resolving
// extracted entity references against the entity store.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/resolver"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
	"github.com/capitalize-ai/clarification-engine/pkg/metrics"
)

// analysisTemperature keeps extraction near-deterministic.
const analysisTemperature = 0.1

// Config holds analyzer policy.
type Config struct {
	// ConfidenceHigh is the threshold at or above which execution proceeds
	// without clarification.
	ConfidenceHigh float64
	// ConfidenceLow is the threshold below which the request is treated as
	// a scope problem rather than a detail problem.
	ConfidenceLow float64
	// LLMTimeout bounds each completion call.
	LLMTimeout time.Duration
}

// Analyzer analyzes user input against conversation context.
type Analyzer struct {
	client   llm.Client
	resolver *resolver.Resolver
	tools    *tool.Registry
	cfg      Config
	logger   *logger.Logger
}

// New creates an analyzer. A nil client selects the rule-based extraction
// path, used when no completion provider is configured.
func New(client llm.Client, res *resolver.Resolver, tools *tool.Registry, cfg Config, log *logger.Logger) *Analyzer {
	if cfg.ConfidenceHigh == 0 {
		cfg.ConfidenceHigh = 0.90
	}
	if cfg.ConfidenceLow == 0 {
		cfg.ConfidenceLow = 0.60
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	return &Analyzer{
		client:   client,
		resolver: res,
		tools:    tools,
		cfg:      cfg,
		logger:   log,
	}
}

// ConfidenceHigh returns the configured high threshold.
func (a *Analyzer) ConfidenceHigh() float64 { return a.cfg.ConfidenceHigh }

// Analyze extracts intent and entities from user input, resolves entity
// references, detects ambiguity conditions and enforces the confidence
// invariant: confidence at or above the high threshold only with an empty
// condition set.
func (a *Analyzer) Analyze(ctx context.Context, input string, cctx model.ConversationContext) (*model.IntentAnalysis, error) {
	start := time.Now()

	analysis, err := a.extract(ctx, input, cctx)
	if err != nil {
		return nil, err
	}

	metrics.AnalysisDuration.WithLabelValues("intent").Observe(time.Since(start).Seconds())

	matchStart := time.Now()
	if err := a.resolveEntities(ctx, analysis, cctx); err != nil {
		return nil, err
	}
	metrics.AnalysisDuration.WithLabelValues("entity_matching").Observe(time.Since(matchStart).Seconds())

	a.detectConditions(analysis, cctx)
	a.settleConfidence(analysis)

	a.logger.Debug("analysis complete",
		zap.String("intent", analysis.Intent),
		zap.Float64("confidence", analysis.Confidence),
		zap.Int("conditions", len(analysis.Conditions)),
	)

	return analysis, nil
}

// extract delegates to the completion collaborator, retrying once with a
// stricter prompt on unparseable output or timeout. A collaborator that
// stays unreachable escalates as such; unparseable output after the retry
// escalates as a malformed analysis.
func (a *Analyzer) extract(ctx context.Context, input string, cctx model.ConversationContext) (*model.IntentAnalysis, error) {
	if a.client == nil {
		return a.RuleBased(input, cctx), nil
	}

	analysis, err := a.callAndParse(ctx, buildPrompt(input, cctx, a.tools.Capabilities()))
	if err == nil {
		return analysis, nil
	}

	a.logger.Warn("first extraction attempt failed, retrying with strict prompt",
		zap.Error(err))

	analysis, retryErr := a.callAndParse(ctx, buildStrictPrompt(input, cctx, a.tools.Capabilities()))
	if retryErr == nil {
		return analysis, nil
	}

	if isUnavailable(retryErr) && isUnavailable(err) {
		return nil, fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, retryErr)
	}
	return nil, fmt.Errorf("%w: %v", model.ErrMalformedAnalysis, retryErr)
}

func (a *Analyzer) callAndParse(ctx context.Context, prompt string) (*model.IntentAnalysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	raw, err := llm.CompleteText(callCtx, a.client, prompt, analysisTemperature)
	if err != nil {
		metrics.RecordLLMCall(a.client.Name(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}
	metrics.RecordLLMCall(a.client.Name(), "success", time.Since(start).Seconds(), 0, 0)

	return parseAnalysis(raw)
}

// resolveEntities resolves each extracted reference. Already-bound entities
// are honored from context so a resolved ambiguity cannot recur within the
// turn. A single match auto-binds; multiple matches become an
// entity_ambiguous condition; zero matches become an out_of_scope condition.
func (a *Analyzer) resolveEntities(ctx context.Context, analysis *model.IntentAnalysis, cctx model.ConversationContext) error {
	for name, ref := range analysis.Entities {
		if !resolvable(ref.Kind) {
			continue
		}
		if id, bound := cctx.BoundEntity(name); bound {
			ref.ResolvedID = id
			ref.Confidence = 1.0
			analysis.Entities[name] = ref
			continue
		}
		if ref.ResolvedID != "" {
			continue
		}

		validation, err := a.resolver.Validate(ctx, ref.Kind, ref.Value, cctx)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
		}

		switch {
		case !validation.Valid:
			analysis.Conditions = append(analysis.Conditions, model.Condition{
				Kind:   model.ConditionOutOfScope,
				Entity: name,
				Detail: fmt.Sprintf("no %s found matching %q", ref.Kind, ref.Value),
			})
		case validation.Unique:
			ref.ResolvedID = validation.Matches[0].ID
			ref.Confidence = 1.0
			analysis.Entities[name] = ref
		default:
			analysis.Conditions = append(analysis.Conditions, model.Condition{
				Kind:       model.ConditionEntityAmbiguous,
				Entity:     name,
				Candidates: validation.Matches,
			})
		}
	}
	return nil
}

// detectConditions adds scope, missing-parameter and constraint conditions.
func (a *Analyzer) detectConditions(analysis *model.IntentAnalysis, cctx model.ConversationContext) {
	if cctx.Intent != "" {
		// The user explicitly redirected to this intent through scope
		// guidance; low extraction confidence on the original wording must
		// not re-open the scope question.
		analysis.Intent = cctx.Intent
		if analysis.Confidence < a.cfg.ConfidenceLow {
			analysis.Confidence = a.cfg.ConfidenceLow
		}
	}

	if !a.tools.Known(analysis.Intent) {
		analysis.Conditions = append(analysis.Conditions, model.Condition{
			Kind:   model.ConditionOutOfScope,
			Detail: fmt.Sprintf("unrecognized intent %q", analysis.Intent),
		})
	} else if analysis.Confidence < a.cfg.ConfidenceLow && !analysis.HasCondition(model.ConditionOutOfScope) {
		analysis.Conditions = append(analysis.Conditions, model.Condition{
			Kind:   model.ConditionOutOfScope,
			Detail: "confidence below low threshold",
		})
	}

	params := a.effectiveParams(analysis, cctx)

	if cctx.Mitigation == "" {
		analysis.Conditions = append(analysis.Conditions, a.tools.CheckConstraints(analysis.Intent, params)...)
	}

	for _, missing := range a.tools.MissingParams(analysis.Intent, params) {
		analysis.MissingParams = append(analysis.MissingParams, missing)
		analysis.Conditions = append(analysis.Conditions, model.Condition{
			Kind:      model.ConditionMissingParameter,
			Parameter: missing,
		})
	}
}

// effectiveParams flattens extracted entities, context bindings and filled
// parameters into the parameter view the registry checks against.
func (a *Analyzer) effectiveParams(analysis *model.IntentAnalysis, cctx model.ConversationContext) map[string]string {
	params := make(map[string]string)
	for name, ref := range analysis.Entities {
		if ref.ResolvedID != "" {
			params[paramNameFor(ref.Kind)] = ref.ResolvedID
		} else {
			params[name] = ref.Value
		}
	}
	for name, id := range cctx.BoundEntities {
		params[name] = id
		if kind, ok := analysis.Entities[name]; ok {
			params[paramNameFor(kind.Kind)] = id
		}
	}
	for name, value := range cctx.Parameters {
		params[name] = value
	}
	return params
}

// settleConfidence enforces the joint invariant between confidence and the
// condition set, in both directions: conditions present clamp confidence
// below the high threshold, and a fully resolved analysis is promoted to it
// so a merged clarification deterministically converges.
func (a *Analyzer) settleConfidence(analysis *model.IntentAnalysis) {
	if len(analysis.Conditions) > 0 {
		ceiling := a.cfg.ConfidenceHigh - 0.01
		if analysis.Confidence > ceiling {
			analysis.Confidence = ceiling
		}
		return
	}
	if analysis.Confidence < a.cfg.ConfidenceHigh {
		analysis.Confidence = a.cfg.ConfidenceHigh
	}
}

func paramNameFor(kind model.EntityKind) string {
	switch kind {
	case model.EntityKindPatient:
		return "patient_id"
	case model.EntityKindClaim:
		return "claim_id"
	default:
		return string(kind) + "_id"
	}
}

// resolvable reports whether a kind is backed by the entity store. Other
// extracted values (counts, statuses, dates) are plain parameters.
func resolvable(kind model.EntityKind) bool {
	return kind == model.EntityKindPatient || kind == model.EntityKindClaim
}

func isUnavailable(err error) bool {
	return err != nil &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, errMalformedJSON)
}
