// Package github implements the HostingClient and EventSource ports
// over the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/endorhq/rover/internal/core"
)

// Client wraps GitHub CLI operations for one repository.
type Client struct {
	repoOwner string
	repoName  string
	timeout   time.Duration
	runner    CommandRunner
}

// NewClient creates a new GitHub client.
func NewClient(owner, repo string) (*Client, error) {
	return NewClientWithRunner(owner, repo, NewExecRunner())
}

// NewClientWithRunner creates a client with a custom command runner.
func NewClientWithRunner(owner, repo string, runner CommandRunner) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, core.ErrSystem(core.CodeGitFailed, "github owner and repo must be configured")
	}
	return &Client{
		repoOwner: owner,
		repoName:  repo,
		timeout:   60 * time.Second,
		runner:    runner,
	}, nil
}

// NewClientFromRepo creates a client detecting the repo from the git
// remote via gh.
func NewClientFromRepo() (*Client, error) {
	runner := NewExecRunner()
	output, err := runner.Run(context.Background(), "gh", "repo", "view", "--json", "owner,name")
	if err != nil {
		return nil, fmt.Errorf("detecting repo: %w", err)
	}

	var repo struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(output), &repo); err != nil {
		return nil, fmt.Errorf("parsing repo info: %w", err)
	}

	return NewClientWithRunner(repo.Owner.Login, repo.Name, runner)
}

// VerifyAuth checks that gh is installed and authenticated.
func (c *Client) VerifyAuth(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, "gh", "auth", "status"); err != nil {
		return core.ErrSystem(core.CodeGitFailed,
			"gh CLI is not authenticated, run 'gh auth login'").WithCause(err)
	}
	return nil
}

// run executes a gh command with the client timeout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.runner.Run(ctx, "gh", args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTransient(core.CodeGitFailed, "gh command timed out")
		}
		return "", core.ErrTransient(core.CodeGitFailed, "gh command failed").WithCause(err)
	}
	return output, nil
}

// Repo returns owner/name.
func (c *Client) Repo() string {
	return c.repoOwner + "/" + c.repoName
}

// WithTimeout sets the command timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// CommentIssue posts a comment on an issue.
func (c *Client) CommentIssue(ctx context.Context, number int, body string) error {
	_, err := c.run(ctx, "issue", "comment", strconv.Itoa(number),
		"--repo", c.Repo(), "--body", body)
	return err
}

// CommentPR posts a comment on a pull request.
func (c *Client) CommentPR(ctx context.Context, number int, body string) error {
	_, err := c.run(ctx, "pr", "comment", strconv.Itoa(number),
		"--repo", c.Repo(), "--body", body)
	return err
}

// IssueContext returns a short textual description of an issue for
// prompt construction.
func (c *Client) IssueContext(ctx context.Context, number int) (string, error) {
	output, err := c.run(ctx, "issue", "view", strconv.Itoa(number),
		"--repo", c.Repo(), "--json", "number,title,body,state,labels")
	if err != nil {
		return "", err
	}

	var data struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal([]byte(output), &data); err != nil {
		return "", core.ErrTransient(core.CodeParseFailed, "parsing issue view output").WithCause(err)
	}

	labels := make([]string, 0, len(data.Labels))
	for _, l := range data.Labels {
		labels = append(labels, l.Name)
	}
	return fmt.Sprintf("Issue #%d (%s)\nTitle: %s\nLabels: %v\n\n%s",
		data.Number, data.State, data.Title, labels, data.Body), nil
}

// PRContext returns a short textual description of a pull request.
func (c *Client) PRContext(ctx context.Context, number int) (string, error) {
	output, err := c.run(ctx, "pr", "view", strconv.Itoa(number),
		"--repo", c.Repo(), "--json", "number,title,body,state,headRefName,baseRefName")
	if err != nil {
		return "", err
	}

	var data struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Body        string `json:"body"`
		State       string `json:"state"`
		HeadRefName string `json:"headRefName"`
		BaseRefName string `json:"baseRefName"`
	}
	if err := json.Unmarshal([]byte(output), &data); err != nil {
		return "", core.ErrTransient(core.CodeParseFailed, "parsing pr view output").WithCause(err)
	}

	return fmt.Sprintf("PR #%d (%s) %s <- %s\nTitle: %s\n\n%s",
		data.Number, data.State, data.BaseRefName, data.HeadRefName, data.Title, data.Body), nil
}
