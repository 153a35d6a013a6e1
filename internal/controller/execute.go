package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/model"
	"github.com/capitalize-ai/clarification-engine/internal/tool"
	"github.com/capitalize-ai/clarification-engine/pkg/metrics"
)

// paramProviders maps a parameter to the tool whose result can supply it,
// for chaining within the reasoning loop (e.g. calculate_total needs
// claim_ids, which get_claims produces from a patient_id).
var paramProviders = map[string]string{
	"claim_ids": "get_claims",
}

// execute runs the reasoning loop for a fully-resolved analysis: gather any
// derivable missing parameters through upstream tools, then run the intent's
// tool. Returns the rendered answer and the number of iterations used.
func (c *Controller) execute(ctx context.Context, analysis *model.IntentAnalysis, cctx model.ConversationContext) (string, int, error) {
	params := c.toolParams(analysis, cctx)
	intent := analysis.Intent

	for iteration := 1; iteration <= c.cfg.IterationCap; iteration++ {
		missing := c.tools.MissingParams(intent, params)
		if len(missing) == 0 {
			result, err := c.runWithRetry(ctx, intent, params)
			if err != nil {
				return "", iteration, err
			}
			return renderAnswer(intent, params, result), iteration, nil
		}

		upstream, ok := paramProviders[missing[0]]
		if !ok {
			return "", iteration, fmt.Errorf("no value for required parameter %q", missing[0])
		}
		if blocked := c.tools.MissingParams(upstream, params); len(blocked) > 0 {
			return "", iteration, fmt.Errorf("cannot derive %q: %s also needs %q",
				missing[0], upstream, blocked[0])
		}

		result, err := c.runWithRetry(ctx, upstream, params)
		if err != nil {
			return "", iteration, err
		}
		harvestParams(params, result)

		if params[missing[0]] == "" {
			return "", iteration, fmt.Errorf("%s produced no value for %q", upstream, missing[0])
		}
		c.logger.Debug("derived parameter through tool chain",
			zap.String("parameter", missing[0]), zap.String("tool", upstream))
	}

	return "", c.cfg.IterationCap, fmt.Errorf("reasoning loop exceeded %d iterations", c.cfg.IterationCap)
}

// runWithRetry executes one tool with a per-attempt timeout and a bounded
// retry budget.
func (c *Controller) runWithRetry(ctx context.Context, name string, params map[string]string) (tool.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ToolRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ToolTimeout)
		result, err := c.tools.Execute(attemptCtx, name, params)
		cancel()

		if err == nil {
			metrics.ToolExecutionsTotal.WithLabelValues(name, "ok").Inc()
			return result, nil
		}
		metrics.ToolExecutionsTotal.WithLabelValues(name, "error").Inc()
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("tool execution failed",
			zap.String("tool", name), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < c.cfg.ToolRetries {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", name, c.cfg.ToolRetries, lastErr)
}

// toolParams assembles tool parameters from the merged context and the
// resolved entity references.
func (c *Controller) toolParams(analysis *model.IntentAnalysis, cctx model.ConversationContext) map[string]string {
	params := make(map[string]string, len(cctx.Parameters)+len(analysis.Entities))
	for k, v := range cctx.Parameters {
		params[k] = v
	}
	for name, ref := range analysis.Entities {
		switch {
		case ref.ResolvedID != "":
			params[paramName(ref.Kind)] = ref.ResolvedID
		case ref.Value != "":
			if _, taken := params[name]; !taken {
				params[name] = ref.Value
			}
		}
	}
	for name, id := range cctx.BoundEntities {
		if ref, ok := analysis.Entities[name]; ok {
			params[paramName(ref.Kind)] = id
		}
	}
	return params
}

func paramName(kind model.EntityKind) string {
	switch kind {
	case model.EntityKindPatient:
		return "patient_id"
	case model.EntityKindClaim:
		return "claim_ids"
	default:
		return string(kind)
	}
}

// harvestParams copies values usable as downstream parameters out of a tool
// result: scalar strings keyed like parameters, plus claim ids pulled from a
// claims listing.
func harvestParams(params map[string]string, result tool.Result) {
	for key, value := range result {
		switch v := value.(type) {
		case string:
			if params[key] == "" {
				params[key] = v
			}
		case []tool.Claim:
			ids := make([]string, 0, len(v))
			for _, claim := range v {
				ids = append(ids, claim.ID)
			}
			if len(ids) > 0 && params["claim_ids"] == "" {
				params["claim_ids"] = strings.Join(ids, ",")
			}
		}
	}
}

// renderAnswer turns a tool result into the user-facing answer text.
func renderAnswer(intent string, params map[string]string, result tool.Result) string {
	switch intent {
	case "calculate_total":
		return fmt.Sprintf("The total across %d claims is $%.2f.",
			intFrom(result["count"]), floatFrom(result["total"]))
	case "get_claims":
		count := intFrom(result["count"])
		if count == 0 {
			return "No claims matched that patient."
		}
		answer := fmt.Sprintf("Found %d claims totaling $%.2f.", count, floatFrom(result["total_amount"]))
		if status := params["status"]; status != "" {
			answer = fmt.Sprintf("Found %d %s claims totaling $%.2f.",
				count, status, floatFrom(result["total_amount"]))
		}
		return answer
	case "query_patients":
		count := intFrom(result["count"])
		if count == 0 {
			return "No patients matched that name."
		}
		return fmt.Sprintf("Found %d matching patients.", count)
	default:
		return fmt.Sprintf("Done. %s completed successfully.", intent)
	}
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func floatFrom(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
