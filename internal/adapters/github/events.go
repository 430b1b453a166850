package github

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/endorhq/rover/internal/core"
)

// apiEvent mirrors the subset of the GitHub events API payload the
// poller needs.
type apiEvent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Actor struct {
		Login string `json:"login"`
	} `json:"actor"`
	Repo struct {
		Name string `json:"name"` // owner/repo
	} `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type issuePayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Body        string `json:"body"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
}

type prPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"pull_request"`
	Review struct {
		State string `json:"state"`
		Body  string `json:"body"`
	} `json:"review"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
}

type pushPayload struct {
	Ref  string `json:"ref"`
	Head string `json:"head"`
}

// FetchEvents returns recent repository events, newest first, bounded
// by limit. Events the autopilot does not react to come back with type
// Unknown so the poller can drop them without consulting the cursor.
func (c *Client) FetchEvents(ctx context.Context, limit int) ([]core.Event, error) {
	output, err := c.run(ctx, "api",
		fmt.Sprintf("repos/%s/events?per_page=%d", c.Repo(), limit))
	if err != nil {
		return nil, err
	}

	var raw []apiEvent
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return nil, core.ErrTransient(core.CodeParseFailed, "parsing events payload").WithCause(err)
	}

	events := make([]core.Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, mapEvent(r))
	}
	return events, nil
}

// mapEvent converts a raw API event into the autopilot event model.
func mapEvent(r apiEvent) core.Event {
	ev := core.Event{
		ID:        r.ID,
		Type:      core.EventUnknown,
		Repo:      r.Repo.Name,
		Author:    r.Actor.Login,
		CreatedAt: r.CreatedAt,
	}

	switch r.Type {
	case "IssuesEvent":
		var p issuePayload
		if json.Unmarshal(r.Payload, &p) != nil || p.Action != "opened" {
			return ev
		}
		ev.Type = core.EventIssueOpened
		ev.IssueNumber = p.Issue.Number
		ev.Title = p.Issue.Title
		ev.Body = p.Issue.Body

	case "IssueCommentEvent":
		var p issuePayload
		if json.Unmarshal(r.Payload, &p) != nil || p.Action != "created" {
			return ev
		}
		// The issues API surfaces PR conversations as issues too.
		if p.Issue.PullRequest != nil {
			ev.Type = core.EventCommentOnIssueOrPR
			ev.PRNumber = p.Issue.Number
			ev.IsPullRequest = true
		} else {
			ev.Type = core.EventCommentCreated
			ev.IssueNumber = p.Issue.Number
		}
		ev.Title = p.Issue.Title
		ev.Body = p.Comment.Body

	case "PullRequestEvent":
		var p prPayload
		if json.Unmarshal(r.Payload, &p) != nil || p.Action != "opened" {
			return ev
		}
		ev.Type = core.EventPullRequestOpened
		ev.PRNumber = p.PullRequest.Number
		ev.IsPullRequest = true
		ev.Title = p.PullRequest.Title
		ev.Body = p.PullRequest.Body

	case "PullRequestReviewEvent":
		var p prPayload
		if json.Unmarshal(r.Payload, &p) != nil {
			return ev
		}
		ev.Type = core.EventPullRequestReview
		ev.PRNumber = p.PullRequest.Number
		ev.IsPullRequest = true
		ev.Title = p.PullRequest.Title
		ev.Body = p.Review.Body

	case "PullRequestReviewCommentEvent":
		var p prPayload
		if json.Unmarshal(r.Payload, &p) != nil {
			return ev
		}
		ev.Type = core.EventReviewCommentAdded
		ev.PRNumber = p.PullRequest.Number
		ev.IsPullRequest = true
		ev.Title = p.PullRequest.Title
		ev.Body = p.Comment.Body

	case "PushEvent":
		var p pushPayload
		if json.Unmarshal(r.Payload, &p) != nil {
			return ev
		}
		ev.Type = core.EventPushedRef
		ev.Ref = p.Ref
		if p.Head != "" {
			ev.Title = "push " + p.Head
		}
	}

	return ev
}
