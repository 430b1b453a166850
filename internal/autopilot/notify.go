package autopilot

import (
	"context"
	"strings"

	"github.com/endorhq/rover/internal/autopilot/journal"
	"github.com/endorhq/rover/internal/core"
)

// Comment bodies are truncated well below GitHub's 65536-character
// hard limit so the truncation notice always fits.
const maxCommentLen = 60000

// notifyProcess posts the trace outcome back where the event came
// from. Traces rooted at events without a comment target (pushes)
// complete silently.
func (a *Autopilot) notifyProcess(ctx context.Context, p core.PendingAction) error {
	a.index.SetStepStatus(p.TraceID, p.ActionID, core.StepRunning)

	root, err := a.rootSpan(p.TraceID)
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	span, err := journal.StartSpan(a.store, journal.SpanOptions{
		Step:   core.StepNotify,
		Parent: p.SpanID,
		Meta:   map[string]any{"outcome": metaString(p.Meta, "outcome")},
	})
	if err != nil {
		return a.stageFailure(p, nil, err)
	}

	rootType := core.EventType(metaString(root.Meta, "type"))
	if !rootType.Notifiable() {
		if err := span.Complete("no comment target for "+string(rootType), nil); err != nil {
			return a.stageFailure(p, nil, err)
		}
		return a.finishStep(p)
	}

	body := truncateComment(a.composeComment(ctx, root, p))

	if err := a.postComment(ctx, root, body); err != nil {
		return a.stageFailure(p, span, err)
	}

	if err := span.Complete("comment posted", map[string]any{"length": len(body)}); err != nil {
		return a.stageFailure(p, nil, err)
	}
	a.logger.Info("notified", "trace_id", p.TraceID, "outcome", metaString(p.Meta, "outcome"))
	return a.finishStep(p)
}

// composeComment builds the comment body by asking the fast agent to
// summarize the full span trace. On agent failure it degrades to the
// concatenated step summaries, and past that to a one-liner; a comment
// always goes out.
func (a *Autopilot) composeComment(ctx context.Context, root *core.Span, p core.PendingAction) string {
	system := notifySystemPrompt
	if metaString(p.Meta, "originalAction") == string(core.ActionClarify) {
		system = clarifySystemPrompt
	}

	prompt := buildEventContext(root.Meta) + "\n" + buildTraceContext(a.index.Steps(p.TraceID), p.Meta)
	body, err := a.deps.FastAgent.Invoke(ctx, prompt, core.InvokeOptions{
		Model:        a.deps.FastModel,
		SystemPrompt: system,
		Timeout:      a.cfg.Autopilot.AgentTimeout,
	})
	if err == nil && strings.TrimSpace(body) != "" {
		return body
	}
	a.logger.Warn("notify: comment generation failed, falling back",
		"trace_id", p.TraceID, "error", err)

	var parts []string
	for _, s := range a.index.Steps(p.TraceID) {
		if s.Reasoning != "" {
			parts = append(parts, s.Reasoning)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	summary := metaString(p.Meta, "detail")
	if summary == "" {
		summary = metaString(p.Meta, "outcome")
	}
	if summary == "" {
		summary = metaString(root.Meta, "title")
	}
	return "Autopilot finished processing: " + summary
}

// postComment routes the body to the issue or PR the trace is rooted
// at.
func (a *Autopilot) postComment(ctx context.Context, root *core.Span, body string) error {
	if n := metaInt(root.Meta, "prNumber"); n > 0 {
		return a.deps.Hosting.CommentPR(ctx, n, body)
	}
	if n := metaInt(root.Meta, "issueNumber"); n > 0 {
		return a.deps.Hosting.CommentIssue(ctx, n, body)
	}
	return core.ErrTrace(core.CodeParseFailed, "root event has no issue or pr number")
}

func truncateComment(body string) string {
	if len(body) <= maxCommentLen {
		return body
	}
	return body[:maxCommentLen] + "\n\n*(truncated)*"
}
