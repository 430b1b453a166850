package core

import "time"

// EventType identifies the kind of repository activity an event
// represents.
type EventType string

const (
	EventIssueOpened         EventType = "IssueOpened"
	EventCommentCreated      EventType = "CommentCreated"
	EventPullRequestOpened   EventType = "PullRequestOpened"
	EventPullRequestReview   EventType = "PullRequestReview"
	EventReviewCommentAdded  EventType = "ReviewCommentAdded"
	EventCommentOnIssueOrPR  EventType = "CommentOnIssueOrPR"
	EventPushedRef           EventType = "PushedRef"
	EventUnknown             EventType = "Unknown"
)

// Event is a single unit of external repository activity. Events are
// consumed exactly once; their ids are recorded in the cursor tail.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Repo          string    `json:"repo"` // owner/repo
	Author        string    `json:"author,omitempty"`
	IssueNumber   int       `json:"issue_number,omitempty"`
	PRNumber      int       `json:"pr_number,omitempty"`
	IsPullRequest bool      `json:"is_pull_request,omitempty"`
	Title         string    `json:"title,omitempty"`
	Body          string    `json:"body,omitempty"`
	Ref           string    `json:"ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsRelevant reports whether the autopilot reacts to this event type.
// Everything else is dropped by the poller without touching the
// cursor.
func (e Event) IsRelevant() bool {
	switch e.Type {
	case EventIssueOpened, EventCommentCreated, EventPullRequestOpened,
		EventPullRequestReview, EventReviewCommentAdded,
		EventCommentOnIssueOrPR, EventPushedRef:
		return true
	}
	return false
}

// Notifiable reports whether a finished trace rooted at this event
// type has a comment target. Push events and unknown types are
// terminal-silent.
func (e EventType) Notifiable() bool {
	switch e {
	case EventIssueOpened, EventCommentCreated, EventPullRequestOpened,
		EventPullRequestReview, EventReviewCommentAdded,
		EventCommentOnIssueOrPR:
		return true
	}
	return false
}

// Meta flattens the event into the span meta map stored on the root
// span of its trace.
func (e Event) Meta() map[string]any {
	m := map[string]any{
		"eventId": e.ID,
		"type":    string(e.Type),
		"repo":    e.Repo,
	}
	if e.Author != "" {
		m["author"] = e.Author
	}
	if e.IssueNumber > 0 {
		m["issueNumber"] = e.IssueNumber
	}
	if e.PRNumber > 0 {
		m["prNumber"] = e.PRNumber
	}
	if e.IsPullRequest {
		m["isPullRequest"] = true
	}
	if e.Title != "" {
		m["title"] = e.Title
	}
	if e.Body != "" {
		m["body"] = e.Body
	}
	if e.Ref != "" {
		m["ref"] = e.Ref
	}
	return m
}
