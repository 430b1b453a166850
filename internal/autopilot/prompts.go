package autopilot

import (
	"fmt"
	"strings"

	"github.com/endorhq/rover/internal/core"
)

const coordinatorSystemPrompt = `You are the coordinator of an autonomous repository assistant.
Given one repository event, decide the single next action.
Respond with JSON only: {"action": "...", "reasoning": "...", "confidence": 0.0}
Valid actions:
  "plan"     - the event asks for code work that needs breaking down
  "workflow" - the event asks for one small, self-contained code change
  "notify"   - the event only needs a reply comment
  "clarify"  - the request is too ambiguous to act on
  "noop"     - nothing to do`

const plannerSystemPrompt = `You are the planner of an autonomous repository assistant.
Break the request below into independent work items.
Respond with JSON only: a list of items
  [{"title": "...", "description": "...", "acceptance_criteria": "...", "depends_on": null}]
"depends_on" is the zero-based index of a sibling item this one needs
finished first, or null. Keep the list short; one item is fine.`

const resolverSystemPrompt = `You review the outcome of an automated coding task that did not
clearly succeed. Decide whether another attempt can fix it.
Respond with JSON only:
  {"decision": "iterate", "iterate_instructions": "..."} or
  {"decision": "fail", "fail_reason": "..."}`

const clarifySystemPrompt = `Write a short, friendly comment asking the author to clarify their
request. One or two sentences, plain text, no preamble.`

const commitMessageSystemPrompt = `Write a one-line git commit message for the change described below.
Imperative mood, under 72 characters, no trailing period. Respond with
the message only.`

const notifySystemPrompt = `Summarize the outcome of an automated coding run as a short comment
for the person who requested it. Mention what was done and, when a
branch was pushed, where to find it. Plain text, no preamble.`

// buildEventContext renders a root span's event meta into prompt text.
func buildEventContext(meta map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event type: %v\n", meta["type"])
	if v, ok := meta["repo"]; ok {
		fmt.Fprintf(&b, "Repository: %v\n", v)
	}
	if v, ok := meta["author"]; ok {
		fmt.Fprintf(&b, "Author: %v\n", v)
	}
	if v, ok := meta["issueNumber"]; ok {
		fmt.Fprintf(&b, "Issue: #%v\n", v)
	}
	if v, ok := meta["prNumber"]; ok {
		fmt.Fprintf(&b, "Pull request: #%v\n", v)
	}
	if v, ok := meta["title"]; ok {
		fmt.Fprintf(&b, "Title: %v\n", v)
	}
	if v, ok := meta["body"]; ok {
		fmt.Fprintf(&b, "\n%v\n", v)
	}
	return b.String()
}

// buildCommitPrompt renders what the task did for the commit-message
// prompt.
func buildCommitPrompt(task *core.Task, recent, summaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if len(summaries) > 0 {
		b.WriteString("\nWhat was done:\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent commits on this branch:\n")
		for _, c := range recent {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String()
}

// buildTraceContext renders the pipeline steps and outcome meta for
// the notify comment prompt.
func buildTraceContext(steps []core.ActionStep, meta map[string]any) string {
	var b strings.Builder
	if v := metaString(meta, "outcome"); v != "" {
		fmt.Fprintf(&b, "Outcome: %s\n", v)
	}
	if v := metaString(meta, "branch"); v != "" {
		fmt.Fprintf(&b, "Branch: %s\n", v)
	}
	if v := metaString(meta, "detail"); v != "" {
		fmt.Fprintf(&b, "Detail: %s\n", v)
	}
	if len(steps) > 0 {
		b.WriteString("\nPipeline steps:\n")
		for _, s := range steps {
			fmt.Fprintf(&b, "  %s: %s", s.Action, s.Status)
			if s.Reasoning != "" {
				fmt.Fprintf(&b, " - %s", s.Reasoning)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// buildResolverPrompt renders the trace history and task outcome for
// the resolver's AI fallback.
func buildResolverPrompt(task *core.Task, summaries []string, steps []core.ActionStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	fmt.Fprintf(&b, "Status: %s (iteration %d)\n", task.Status, task.Iteration)
	if task.Error != "" {
		fmt.Fprintf(&b, "Last error: %s\n", task.Error)
	}
	if len(summaries) > 0 {
		b.WriteString("\nIteration summaries:\n")
		for i, s := range summaries {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
	}
	if len(steps) > 0 {
		b.WriteString("\nPipeline steps so far:\n")
		for _, s := range steps {
			fmt.Fprintf(&b, "  %s: %s\n", s.Action, s.Status)
		}
	}
	return b.String()
}
