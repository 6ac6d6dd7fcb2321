// Package platform wraps the GitHub API surface gatehouse touches: posting
// run results back to the subject of an event.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/gatehouse-hq/gatehouse/core/config"
	"github.com/gatehouse-hq/gatehouse/internal/event"
)

type Client struct {
	gh *github.Client
}

func New(cfg config.GitHubConfig) (*Client, error) {
	gh := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise base URL: %w", err)
		}
	}
	return &Client{gh: gh}, nil
}

// PostComment posts a comment on the event's subject. Issue and pull request
// comments share the issues comment API; discussions have no REST comment
// endpoint, so those are logged and skipped.
func (c *Client) PostComment(ctx context.Context, ev *event.Event, body string) error {
	if ev.Subject == nil {
		return fmt.Errorf("event %s has no subject to comment on", ev.ID())
	}

	owner, repo, err := splitRepo(ev.Repo)
	if err != nil {
		return err
	}

	switch ev.Type {
	case event.TypeIssues, event.TypePullRequest:
		_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, int(ev.Subject.Number), &github.IssueComment{
			Body: github.Ptr(body),
		})
		if err != nil {
			return fmt.Errorf("creating comment on %s#%d: %w", ev.Repo, ev.Subject.Number, err)
		}
		return nil
	case event.TypeDiscussion:
		slog.InfoContext(ctx, "skipping comment on discussion, no REST endpoint",
			"repo", ev.Repo, "number", ev.Subject.Number)
		return nil
	default:
		return fmt.Errorf("cannot comment on event type %s", ev.Type)
	}
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}
