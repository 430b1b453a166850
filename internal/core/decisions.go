package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CoordinatorDecision is the structured answer the coordinator stage
// expects from the AI agent.
type CoordinatorDecision struct {
	Action     ActionType     `json:"action"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ParseCoordinatorDecision parses and post-processes an AI decision.
// Two rewrites are applied unconditionally:
//
//   - "coordinate" is forced to "noop": a coordinator may not spawn
//     another coordinator.
//   - "clarify" is rewritten to "notify" with the original action
//     preserved in meta under "originalAction".
//
// Any other unknown action is a parse failure (the caller treats it
// as transient and retries).
func ParseCoordinatorDecision(raw string) (*CoordinatorDecision, error) {
	var d CoordinatorDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, ErrTransient(CodeParseFailed, "coordinator decision is not valid JSON").WithCause(err)
	}

	switch d.Action {
	case ActionPlan, ActionWorkflow, ActionNotify, ActionNoop:
	case ActionCoordinate:
		d.Action = ActionNoop
		d.Reasoning = strings.TrimSpace("coordinate may not be a sub-action. " + d.Reasoning)
	case ActionClarify:
		if d.Meta == nil {
			d.Meta = make(map[string]any)
		}
		d.Meta["originalAction"] = string(ActionClarify)
		d.Action = ActionNotify
	default:
		return nil, ErrTransient(CodeParseFailed,
			fmt.Sprintf("coordinator returned unknown action %q", d.Action))
	}

	return &d, nil
}

// PlanItem is one unit of work in a planner response. DependsOn
// refers to a sibling item by zero-based index; the planner resolves
// it to the generated action id before persisting.
type PlanItem struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	Workflow           string `json:"workflow,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
	Context            string `json:"context,omitempty"`
	DependsOn          *int   `json:"depends_on,omitempty"`
}

// planResponse tolerates both a bare array and an {"items": [...]}
// wrapper, which agents produce interchangeably.
type planResponse struct {
	Items []PlanItem `json:"items"`
}

// ParsePlan parses a planner response into plan items and validates
// dependency references against the sibling set. Cross-item indices
// out of range (including self-references and forward chains that
// point past the list) are rejected.
func ParsePlan(raw string) ([]PlanItem, error) {
	var items []PlanItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		var wrapped planResponse
		if err2 := json.Unmarshal([]byte(raw), &wrapped); err2 != nil {
			return nil, ErrTransient(CodeParseFailed, "plan is not valid JSON").WithCause(err)
		}
		items = wrapped.Items
	}

	if len(items) == 0 {
		return nil, ErrTransient(CodeParseFailed, "plan contains no items")
	}

	for i, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			return nil, ErrTransient(CodeParseFailed, fmt.Sprintf("plan item %d has no title", i))
		}
		if item.DependsOn != nil {
			dep := *item.DependsOn
			if dep < 0 || dep >= len(items) || dep == i {
				return nil, ErrTrace(CodeCrossTraceDep,
					fmt.Sprintf("plan item %d depends on invalid sibling %d", i, dep))
			}
		}
	}

	return items, nil
}

// ResolveOutcome names what the resolver decided to do with a trace.
type ResolveOutcome string

const (
	ResolveWait    ResolveOutcome = "wait"
	ResolvePush    ResolveOutcome = "push"
	ResolveIterate ResolveOutcome = "iterate"
	ResolveFail    ResolveOutcome = "fail"
)

// ResolveDecision is the AI fallback answer for ambiguous traces.
// Only iterate and fail are valid AI outcomes; wait and push are
// reached deterministically.
type ResolveDecision struct {
	Decision            ResolveOutcome `json:"decision"`
	Reasoning           string         `json:"reasoning,omitempty"`
	IterateInstructions string         `json:"iterate_instructions,omitempty"`
	FailReason          string         `json:"fail_reason,omitempty"`
}

// DefaultIterateInstructions is used when the AI answer is malformed
// or out of range and retries remain.
const DefaultIterateInstructions = "Review the failed step output, fix the underlying problem, and complete the original task."

// ParseResolveDecision parses the resolver AI answer. Malformed JSON
// or an answer outside {iterate, fail} degrades to iterate with
// generic instructions; the retry gate upstream guarantees this
// cannot loop forever.
func ParseResolveDecision(raw string) *ResolveDecision {
	var d ResolveDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return &ResolveDecision{
			Decision:            ResolveIterate,
			Reasoning:           "resolver answer was not valid JSON; defaulting to iterate",
			IterateInstructions: DefaultIterateInstructions,
		}
	}

	switch d.Decision {
	case ResolveIterate:
		if strings.TrimSpace(d.IterateInstructions) == "" {
			d.IterateInstructions = DefaultIterateInstructions
		}
	case ResolveFail:
		if strings.TrimSpace(d.FailReason) == "" {
			d.FailReason = "resolver decided the trace cannot make progress"
		}
	default:
		d = ResolveDecision{
			Decision:            ResolveIterate,
			Reasoning:           fmt.Sprintf("resolver returned %q; defaulting to iterate", d.Decision),
			IterateInstructions: DefaultIterateInstructions,
		}
	}

	return &d
}
