// Package builder constructs clarification requests from a classified
// analysis: the question, presentation mode and ranked options the
// presentation channel pushes to the user.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/logger"
)

// Builder builds clarification requests. The completion collaborator is
// consulted only for scope guidance proposals.
type Builder struct {
	client     llm.Client
	tools      *tool.Registry
	llmTimeout time.Duration
	logger     *logger.Logger
}

// New creates a builder. client may be nil; scope guidance then uses the
// static capability fallback.
func New(client llm.Client, tools *tool.Registry, llmTimeout time.Duration, log *logger.Logger) *Builder {
	if llmTimeout == 0 {
		llmTimeout = 30 * time.Second
	}
	return &Builder{
		client:     client,
		tools:      tools,
		llmTimeout: llmTimeout,
		logger:     log,
	}
}

// Build constructs the clarification request for a category. It never fails
// on well-formed input; a category with no derivable content is defensively
// downgraded to scope guidance.
func (b *Builder) Build(ctx context.Context, category model.AmbiguityCategory, analysis *model.IntentAnalysis, prefs map[string]model.Preference, conversationID string, turn int) *model.ClarificationRequest {
	var req *model.ClarificationRequest

	switch category {
	case model.CategoryEntityDisambiguation:
		req = b.buildDisambiguation(analysis)
	case model.CategoryParameterElicitation:
		req = b.buildElicitation(analysis, prefs)
	case model.CategoryConstraintNegotiation:
		req = b.buildNegotiation(analysis)
	case model.CategoryScopeGuidance:
		req = b.buildScopeGuidance(ctx, analysis)
	}

	if req == nil {
		b.logger.Warn("no derivable content for category, downgrading to scope guidance",
			zap.String("category", string(category)))
		req = b.buildScopeGuidance(ctx, analysis)
	}

	req.ConversationID = conversationID
	req.Turn = turn
	req.CreatedAt = time.Now()
	return req
}

func (b *Builder) buildDisambiguation(analysis *model.IntentAnalysis) *model.ClarificationRequest {
	cond, ok := analysis.Condition(model.ConditionEntityAmbiguous)
	if !ok || len(cond.Candidates) == 0 {
		return nil
	}

	ref := analysis.Entities[cond.Entity]

	options := make([]model.Option, len(cond.Candidates))
	for i, c := range cond.Candidates {
		options[i] = model.Option{
			ID:          c.ID,
			Label:       c.Label,
			Sublabel:    sublabel(c),
			Relevance:   c.Relevance,
			Recommended: i == 0,
			Metadata:    c.Metadata,
		}
	}

	return &model.ClarificationRequest{
		Category:   model.CategoryEntityDisambiguation,
		EntityName: cond.Entity,
		EntityKind: ref.Kind,
		Question: fmt.Sprintf("I found %d %ss matching %q. Which one do you mean?",
			len(options), ref.Kind, ref.Value),
		UIType:  model.UITypeRadio,
		Options: options,
	}
}

func (b *Builder) buildElicitation(analysis *model.IntentAnalysis, prefs map[string]model.Preference) *model.ClarificationRequest {
	if len(analysis.MissingParams) == 0 {
		return nil
	}

	fields := make([]model.GuidedField, 0, len(analysis.MissingParams))
	for _, name := range analysis.MissingParams {
		field := model.GuidedField{
			Name:     name,
			Question: fmt.Sprintf("What %s should I use?", name),
			Type:     fieldType(name),
			Required: true,
		}
		if s := suggestionsFor(name); len(s) > 0 {
			field.Suggestions = s
		}
		if pref, ok := prefs["param:"+name]; ok {
			field.Default = pref.Value
		}
		fields = append(fields, field)
	}

	return &model.ClarificationRequest{
		Category: model.CategoryParameterElicitation,
		Question: fmt.Sprintf("I need a bit more detail to run %s.", analysis.Intent),
		UIType:   model.UITypeGuidedForm,
		Fields:   fields,
	}
}

// buildNegotiation offers exactly the mitigations that keep the request
// valid: a partial batch now, a narrower filter, or deferred execution.
func (b *Builder) buildNegotiation(analysis *model.IntentAnalysis) *model.ClarificationRequest {
	cond, ok := analysis.Condition(model.ConditionConstraintConflict)
	if !ok {
		return nil
	}

	limit, _ := b.tools.Limit(analysis.Intent, cond.Parameter)

	options := []model.Option{
		{
			ID:       "partial_now",
			Label:    fmt.Sprintf("Process the first %d now, queue the rest", limit),
			Tradeoff: "Fastest result; the remainder completes in the background.",
		},
		{
			ID:       "narrow_filter",
			Label:    "Add filters to narrow the request",
			Tradeoff: "Keeps one synchronous run but needs another pass at the criteria.",
		},
		{
			ID:       "defer_async",
			Label:    "Run the full request asynchronously",
			Tradeoff: "Everything in one job; the result arrives later.",
		},
	}

	return &model.ClarificationRequest{
		Category:   model.CategoryConstraintNegotiation,
		Constraint: cond.Constraint,
		Question: fmt.Sprintf("That request exceeds the limit of %d (%s). How would you like to proceed?",
			limit, cond.Detail),
		UIType:  model.UITypeRadioDetails,
		Options: options,
	}
}

// buildScopeGuidance asks the collaborator for 3-4 in-scope alternatives
// against the fixed capability list. It never returns zero options: with no
// usable proposals it falls back to a static rephrase option plus the
// capability list itself.
func (b *Builder) buildScopeGuidance(ctx context.Context, analysis *model.IntentAnalysis) *model.ClarificationRequest {
	capabilities := b.tools.Capabilities()

	options := b.proposeAlternatives(ctx, analysis, capabilities)
	if len(options) == 0 {
		// Option ids double as the redirected intent, so they must name
		// registered tools.
		for _, cap := range capabilities {
			if len(options) == 3 {
				break
			}
			options = append(options, model.Option{
				ID:    capabilityName(cap),
				Label: cap,
			})
		}
	}
	options = append(options, model.Option{
		ID:    "rephrase",
		Label: "Rephrase your request",
	})

	detail := "I'm not sure I can help with that as asked."
	if cond, ok := analysis.Condition(model.ConditionOutOfScope); ok && cond.Detail != "" {
		detail = cond.Detail
	}

	return &model.ClarificationRequest{
		Category: model.CategoryScopeGuidance,
		Question: fmt.Sprintf("%s Here is what I can do:", capitalize(detail)),
		UIType:   model.UITypeActionList,
		Options:  options,
	}
}

// capabilityName extracts the tool name from a "name - description" line.
func capabilityName(cap string) string {
	if i := strings.Index(cap, " - "); i > 0 {
		return cap[:i]
	}
	return cap
}

// sublabel shows the details that help a user distinguish candidates.
func sublabel(c model.Candidate) string {
	out := "ID: " + c.ID
	if c.LastActivity != "" {
		out += " • Last activity: " + c.LastActivity
	}
	return out
}

func fieldType(param string) string {
	switch param {
	case "status":
		return "array"
	case "count":
		return "number"
	case "date_range":
		return "date"
	default:
		return "string"
	}
}

func suggestionsFor(param string) []string {
	if param == "status" {
		return []string{"pending", "approved", "denied"}
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
