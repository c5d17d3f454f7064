// Package publish sends refined metric sets to GitHub as pull requests.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"
	"github.com/leapstack-labs/leapmetrics/internal/catalog"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// BranchPrefix prefixes every branch created by the publisher.
const BranchPrefix = "refined-metrics-"

// Config configures the GitHub publisher.
type Config struct {
	// Token is a GitHub token with contents and pull request write access
	Token string
	// Repo is "owner/name"
	Repo string
	// BaseBranch is the branch pull requests target (default "main")
	BaseBranch string
	// Dir is the repository directory holding <datasource>/<metric>.json (default "metrics")
	Dir string
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests)
	BaseURL string
	// HTTPClient is optional
	HTTPClient *http.Client
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// GitHub publishes metrics on a fresh branch and opens a pull request.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	base   string
	dir    string
	logger *slog.Logger
}

var _ catalog.Publisher = (*GitHub)(nil)

// NewGitHub creates a publisher.
func NewGitHub(cfg Config) (*GitHub, error) {
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, &core.ValidationError{Path: "github.repo", Problems: []string{fmt.Sprintf("expected owner/name, got %q", cfg.Repo)}}
	}
	if cfg.Token == "" {
		return nil, &core.ValidationError{Path: "github.token", Problems: []string{"token is required"}}
	}

	client := github.NewClient(cfg.HTTPClient).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("failed to parse github base url: %w", err)
		}
		client.BaseURL = u
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &GitHub{
		client: client,
		owner:  owner,
		repo:   repo,
		base:   cfg.BaseBranch,
		dir:    cfg.Dir,
		logger: logger,
	}
	if g.base == "" {
		g.base = "main"
	}
	if g.dir == "" {
		g.dir = "metrics"
	}
	return g, nil
}

// Publish commits one file per metric to a new branch and opens a pull request.
func (g *GitHub) Publish(ctx context.Context, datasource string, metrics []core.Metric) (*catalog.Publication, error) {
	if len(metrics) == 0 {
		return nil, errors.New("nothing to publish")
	}

	baseRef, _, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+g.base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base branch %s: %w", g.base, err)
	}

	branch := BranchPrefix + uuid.NewString()[:8]
	_, _, err = g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	for _, m := range metrics {
		if err := g.putMetric(ctx, branch, datasource, m); err != nil {
			return nil, err
		}
	}

	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.Ptr(fmt.Sprintf("Refine metrics for %s", datasource)),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(g.base),
		Body:  github.Ptr(prBody(datasource, metrics)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pull request: %w", err)
	}

	g.logger.Info("published refined metrics",
		slog.String("datasource", datasource),
		slog.String("branch", branch),
		slog.Int("metrics", len(metrics)))
	return &catalog.Publication{Branch: branch, URL: pr.GetHTMLURL()}, nil
}

func (g *GitHub) putMetric(ctx context.Context, branch, datasource string, m core.Metric) error {
	file := path.Join(g.dir, datasource, m.Name+".json")
	content, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metric %s: %w", m.Name, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(fmt.Sprintf("Update metric %s", m.Name)),
		Content: append(content, '\n'),
		Branch:  github.Ptr(branch),
	}

	existing, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, file,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		_, _, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, file, opts)
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		opts.Message = github.Ptr(fmt.Sprintf("Add metric %s", m.Name))
		_, _, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, file, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

func prBody(datasource string, metrics []core.Metric) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Refined from user feedback on `%s`.\n\n", datasource)
	for _, m := range metrics {
		fmt.Fprintf(&b, "- `%s`", m.Name)
		if m.Description != "" {
			fmt.Fprintf(&b, ": %s", m.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
