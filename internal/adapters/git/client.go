// Package git implements the GitClient port over the git CLI. Every
// operation takes the working directory explicitly because the
// autopilot works across multiple task worktrees at once.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/logging"
)

// Client wraps git CLI operations. Worktree management runs against
// the main repository checkout at repoPath; everything else runs in
// the directory passed per call.
type Client struct {
	repoPath string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewClient creates a git client rooted at the main repository
// checkout.
func NewClient(repoPath string, logger *logging.Logger) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		repoPath: absPath,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
	if _, err := c.run(context.Background(), absPath, "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrSystem(core.CodeGitFailed,
			fmt.Sprintf("%s is not a git repository", absPath)).WithCause(err)
	}
	return c, nil
}

// RepoPath returns the main repository checkout path.
func (c *Client) RepoPath() string {
	return c.repoPath
}

// WithTimeout sets the per-command timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// run executes a git command in dir.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTransient(core.CodeGitFailed,
				fmt.Sprintf("git %s timed out", args[0]))
		}
		return "", core.ErrTransient(core.CodeGitFailed,
			fmt.Sprintf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))).WithCause(err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CurrentBranch returns the branch checked out in dir.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// RevParse resolves ref to a commit sha.
func (c *Client) RevParse(ctx context.Context, dir, ref string) (string, error) {
	return c.run(ctx, dir, "rev-parse", ref)
}

// RecentCommits returns the last limit commit subjects, newest first.
func (c *Client) RecentCommits(ctx context.Context, dir string, limit int) ([]string, error) {
	output, err := c.run(ctx, dir, "log", "-n"+strconv.Itoa(limit), "--format=%h %s")
	if err != nil {
		return nil, err
	}
	var commits []string
	for line := range strings.SplitSeq(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commits = append(commits, line)
		}
	}
	return commits, nil
}

// CreateWorktree creates a worktree at path with a fresh branch off
// base and returns the worktree HEAD commit.
func (c *Client) CreateWorktree(ctx context.Context, path, branch, base string) (string, error) {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	if _, err := c.run(ctx, c.repoPath, args...); err != nil {
		return "", err
	}
	head, err := c.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	c.logger.Debug("git: worktree created", "path", path, "branch", branch, "head", head)
	return head, nil
}

// RemoveWorktree removes a worktree and prunes stale entries.
func (c *Client) RemoveWorktree(ctx context.Context, path string) error {
	if _, err := c.run(ctx, c.repoPath, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	_, err := c.run(ctx, c.repoPath, "worktree", "prune")
	return err
}

// SparseCheckoutExclude configures sparse-checkout in dir to exclude
// the given patterns. A no-op when patterns is empty.
func (c *Client) SparseCheckoutExclude(ctx context.Context, dir string, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	if _, err := c.run(ctx, dir, "sparse-checkout", "init", "--no-cone"); err != nil {
		return err
	}
	rules := []string{"/*"}
	for _, p := range patterns {
		rules = append(rules, "!"+p)
	}
	args := append([]string{"sparse-checkout", "set", "--no-cone"}, rules...)
	_, err := c.run(ctx, dir, args...)
	return err
}

// AddAll stages all changes in dir.
func (c *Client) AddAll(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "add", "-A")
	return err
}

// HasUncommittedChanges reports whether dir has staged, unstaged or
// untracked changes.
func (c *Client) HasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	output, err := c.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// Commit creates a commit in dir and returns its sha. The trailer, if
// set, is appended as the final line of the message.
func (c *Client) Commit(ctx context.Context, dir string, opts core.CommitOptions) (string, error) {
	message := opts.Message
	if opts.Trailer != "" {
		message = message + "\n\n" + opts.Trailer
	}
	if _, err := c.run(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	return c.run(ctx, dir, "rev-parse", "HEAD")
}

// Push pushes branch from dir to remote.
func (c *Client) Push(ctx context.Context, dir, remote, branch string) error {
	_, err := c.run(ctx, dir, "push", "-u", remote, branch)
	return err
}

// Rebase rebases dir onto ref. When the rebase stops on conflicts it
// returns the conflicted paths; an empty list means it completed.
func (c *Client) Rebase(ctx context.Context, dir, onto string) ([]string, error) {
	if _, err := c.run(ctx, dir, "rebase", onto); err != nil {
		conflicts, listErr := c.conflictedPaths(ctx, dir)
		if listErr == nil && len(conflicts) > 0 {
			return conflicts, nil
		}
		return nil, err
	}
	return nil, nil
}

// ContinueRebase continues a stopped rebase after conflicts were
// resolved.
func (c *Client) ContinueRebase(ctx context.Context, dir string) error {
	// core.editor=true keeps rebase --continue from opening an editor.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-c", "core.editor=true", "rebase", "--continue")
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return core.ErrTransient(core.CodeGitFailed,
			fmt.Sprintf("git rebase --continue: %s", strings.TrimSpace(stderr.String()))).WithCause(err)
	}
	return nil
}

// AbortRebase aborts a stopped rebase, restoring the pre-rebase head.
func (c *Client) AbortRebase(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "rebase", "--abort")
	return err
}

func (c *Client) conflictedPaths(ctx context.Context, dir string) ([]string, error) {
	output, err := c.run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for line := range strings.SplitSeq(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}
