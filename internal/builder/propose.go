package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/llm"
	"github.com/capitalize-ai/clarification-engine/internal/model"
)

// proposalTemperature allows some variety in suggested alternatives.
const proposalTemperature = 0.7

const maxProposals = 4

type rawProposal struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// proposeAlternatives asks the collaborator for in-scope alternative
// actions. Any failure yields an empty list; the caller supplies the
// fallback.
func (b *Builder) proposeAlternatives(ctx context.Context, analysis *model.IntentAnalysis, capabilities []string) []model.Option {
	if b.client == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.llmTimeout)
	defer cancel()

	raw, err := llm.CompleteText(callCtx, b.client, proposalPrompt(analysis, capabilities), proposalTemperature)
	if err != nil {
		b.logger.Warn("scope proposal call failed, using static fallback", zap.Error(err))
		return nil
	}

	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var proposals []rawProposal
	if err := json.Unmarshal([]byte(text), &proposals); err != nil {
		b.logger.Warn("scope proposal response unparseable, using static fallback", zap.Error(err))
		return nil
	}

	options := make([]model.Option, 0, maxProposals)
	for _, p := range proposals {
		if p.Label == "" {
			continue
		}
		id := b.proposalToolName(p)
		if id == "" {
			b.logger.Debug("dropping scope proposal naming no registered tool",
				zap.String("id", p.ID), zap.String("label", p.Label))
			continue
		}
		options = append(options, model.Option{ID: id, Label: p.Label})
		if len(options) == maxProposals {
			break
		}
	}
	return options
}

// proposalToolName maps a proposal onto a registered tool name. A selected
// scope option redirects the intent, so an id the registry does not know
// would send re-analysis straight back out of scope; proposals naming no
// real tool are dropped in favor of the static fallback.
func (b *Builder) proposalToolName(p rawProposal) string {
	if b.tools.Known(p.ID) {
		return p.ID
	}
	label := strings.ToLower(p.Label)
	id := strings.ToLower(p.ID)
	for _, cap := range b.tools.Capabilities() {
		name := capabilityName(cap)
		if strings.Contains(id, name) || strings.Contains(label, name) ||
			strings.Contains(label, strings.ReplaceAll(name, "_", " ")) {
			return name
		}
	}
	return ""
}

func proposalPrompt(analysis *model.IntentAnalysis, capabilities []string) string {
	var b strings.Builder

	b.WriteString("A user made a request that is outside what this assistant can do.\n\n")
	fmt.Fprintf(&b, "Detected intent: %q\n\n", analysis.Intent)

	b.WriteString("The assistant's only capabilities are:\n")
	for _, cap := range capabilities {
		b.WriteString("- " + cap + "\n")
	}

	b.WriteString(`
Propose 3 to 4 alternative actions strictly within those capabilities that
might satisfy the user. Respond with ONLY a JSON array:
[{"id": "short_snake_case_id", "label": "Action the user can take"}]`)

	return b.String()
}
