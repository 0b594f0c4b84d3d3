// Package github collects issue and pull-request discussions from the GitHub
// REST API via the go-github client.
package github

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	github_api "github.com/google/go-github/v29/github"
	"golang.org/x/oauth2"

	"go.afterglow.org/research/corpus-central/go/anonymize"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/httputils"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
)

const (
	// Number of top comments appended to an issue's text when
	// include_comments is set.
	maxComments = 5

	// Page size of the synthetic dry-run feed, matching api.github.com's
	// default.
	mockPageSize = 30
)

// githubSource implements sources.DiscussionSource against api.github.com.
type githubSource struct {
	cfg    config.GithubConfig
	anon   *anonymize.Anonymizer
	client *github_api.Client
	dryRun bool
}

// New returns a DiscussionSource that collects issues and pull requests from
// the configured repositories. The API token is read from the environment
// variable named by the config; without one GitHub serves 60 requests/hour.
func New(ctx context.Context, cfg config.GithubConfig, anon *anonymize.Anonymizer, dryRun bool) (sources.DiscussionSource, error) {
	if len(cfg.Repos) == 0 {
		return nil, skerr.Fmt("github source is enabled but no repos are configured")
	}
	for _, repo := range cfg.Repos {
		if _, _, err := splitRepo(repo); err != nil {
			return nil, skerr.Wrap(err)
		}
	}
	g := &githubSource{
		cfg:    cfg,
		anon:   anon,
		dryRun: dryRun,
	}
	if dryRun {
		return g, nil
	}
	clientConfig := httputils.DefaultClientConfig().With2xxOnly()
	if token := os.Getenv(cfg.TokenEnvVar); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		clientConfig = clientConfig.WithTokenSource(ts)
	} else {
		sklog.Warningf("No GitHub token in $%s; collecting unauthenticated at 60 requests/hour.", cfg.TokenEnvVar)
	}
	g.client = github_api.NewClient(clientConfig.Client())
	return g, nil
}

// Name implements sources.DiscussionSource.
func (g *githubSource) Name() types.SourceFamily {
	return types.GithubFamily
}

// Search implements sources.DiscussionSource.
func (g *githubSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	if g.dryRun {
		return g.mockSearch(ctx)
	}
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	for _, repo := range g.cfg.Repos {
		owner, name, err := splitRepo(repo)
		if err != nil {
			return nil, nil, skerr.Wrap(err)
		}
		issues, issueErrs := g.collectIssues(ctx, owner, name)
		records = append(records, issues...)
		errorLog = append(errorLog, issueErrs...)
		prs, prErrs := g.collectPullRequests(ctx, owner, name)
		records = append(records, prs...)
		errorLog = append(errorLog, prErrs...)
	}
	sklog.Infof("GitHub: %d records from %d repos, %d errors.", len(records), len(g.cfg.Repos), len(errorLog))
	return records, errorLog, nil
}

func (g *githubSource) collectIssues(ctx context.Context, owner, name string) ([]types.Record, []types.ErrorEntry) {
	endpoint := fmt.Sprintf("github.com/%s/%s issues", owner, name)
	return sources.Paginate(ctx, endpoint, g.cfg.MaxItems, g.cfg.PageDelay.Duration, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		opts := &github_api.IssueListByRepoOptions{
			State: "all",
			ListOptions: github_api.ListOptions{
				Page:    page,
				PerPage: g.cfg.PerPage,
			},
		}
		issues, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, false, skerr.Wrapf(err, "listing issues of %s/%s", owner, name)
		}
		records := make([]types.Record, 0, len(issues))
		for _, issue := range issues {
			// The issues API also returns pull requests. Those come in
			// through the pull-request query instead.
			if issue.IsPullRequest() {
				continue
			}
			records = append(records, g.issueRecord(ctx, owner, name, issue))
		}
		pauseForRate(ctx, resp)
		return records, resp.NextPage != 0, nil
	})
}

func (g *githubSource) issueRecord(ctx context.Context, owner, name string, issue *github_api.Issue) types.Record {
	rawText := sources.JoinTitleBody(issue.GetTitle(), issue.GetBody())
	if g.cfg.IncludeComments && issue.GetComments() > 0 {
		rawText = sources.AppendComments(rawText, g.topComments(ctx, owner, name, issue.GetNumber()))
	}
	metadata := map[string]interface{}{
		"number":          issue.GetNumber(),
		"state":           issue.GetState(),
		"labels":          labelNames(issue.Labels),
		"created_at":      issue.GetCreatedAt().UTC().Format(time.RFC3339),
		"comments_count":  issue.GetComments(),
		"reactions_count": issue.GetReactions().GetTotalCount(),
	}
	if issue.ClosedAt != nil {
		metadata["closed_at"] = issue.GetClosedAt().UTC().Format(time.RFC3339)
	}
	return types.Record{
		Source:    types.GithubIssueSource,
		DataID:    fmt.Sprintf("gh_issue_%d", issue.GetNumber()),
		Timestamp: issue.GetCreatedAt().UTC().Format(time.RFC3339),
		RawText:   rawText,
		AuthorID:  g.anon.Token(issue.GetUser().GetLogin()),
		URL:       issue.GetHTMLURL(),
		Metadata:  metadata,
	}
}

func (g *githubSource) topComments(ctx context.Context, owner, name string, number int) []string {
	opts := &github_api.IssueListCommentsOptions{
		ListOptions: github_api.ListOptions{
			PerPage: maxComments,
		},
	}
	comments, _, err := g.client.Issues.ListComments(ctx, owner, name, number, opts)
	if err != nil {
		sklog.Warningf("Could not list comments of %s/%s#%d: %s", owner, name, number, err)
		return nil
	}
	bodies := make([]string, 0, len(comments))
	for _, c := range comments {
		bodies = append(bodies, c.GetBody())
	}
	return bodies
}

func (g *githubSource) collectPullRequests(ctx context.Context, owner, name string) ([]types.Record, []types.ErrorEntry) {
	endpoint := fmt.Sprintf("github.com/%s/%s pulls", owner, name)
	return sources.Paginate(ctx, endpoint, g.cfg.MaxItems, g.cfg.PageDelay.Duration, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		opts := &github_api.PullRequestListOptions{
			State: "all",
			ListOptions: github_api.ListOptions{
				Page:    page,
				PerPage: g.cfg.PerPage,
			},
		}
		prs, resp, err := g.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, false, skerr.Wrapf(err, "listing pull requests of %s/%s", owner, name)
		}
		records := make([]types.Record, 0, len(prs))
		for _, pr := range prs {
			records = append(records, g.prRecord(pr))
		}
		pauseForRate(ctx, resp)
		return records, resp.NextPage != 0, nil
	})
}

func (g *githubSource) prRecord(pr *github_api.PullRequest) types.Record {
	// List responses leave Merged unset; MergedAt is the reliable signal.
	merged := pr.MergedAt != nil
	metadata := map[string]interface{}{
		"number":         pr.GetNumber(),
		"state":          pr.GetState(),
		"merged":         merged,
		"labels":         prLabelNames(pr.Labels),
		"created_at":     pr.GetCreatedAt().UTC().Format(time.RFC3339),
		"comments_count": pr.GetComments(),
	}
	if merged {
		metadata["merged_at"] = pr.GetMergedAt().UTC().Format(time.RFC3339)
	}
	if pr.ClosedAt != nil {
		metadata["closed_at"] = pr.GetClosedAt().UTC().Format(time.RFC3339)
	}
	return types.Record{
		Source:    types.GithubPRSource,
		DataID:    fmt.Sprintf("gh_pr_%d", pr.GetNumber()),
		Timestamp: pr.GetCreatedAt().UTC().Format(time.RFC3339),
		RawText:   sources.JoinTitleBody(pr.GetTitle(), pr.GetBody()),
		AuthorID:  g.anon.Token(pr.GetUser().GetLogin()),
		URL:       pr.GetHTMLURL(),
		Metadata:  metadata,
	}
}

// mockSearch produces a deterministic synthetic issue feed shaped like the
// real one, for dry runs.
func (g *githubSource) mockSearch(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	owner, name, err := splitRepo(g.cfg.Repos[0])
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	records, errorLog := sources.Paginate(ctx, "github dry-run", g.cfg.MaxItems, 0, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		records := make([]types.Record, 0, mockPageSize)
		for i := 0; i < mockPageSize; i++ {
			n := (page-1)*mockPageSize + i
			created := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*n)
			state := "closed"
			if n%2 == 0 {
				state = "open"
			}
			labels := []string{}
			if n%3 == 0 {
				labels = append(labels, "bug")
			}
			metadata := map[string]interface{}{
				"number":          n,
				"state":           state,
				"labels":          labels,
				"created_at":      created.Format(time.RFC3339),
				"comments_count":  n % 7,
				"reactions_count": n % 5,
			}
			if state == "closed" {
				metadata["closed_at"] = created.AddDate(0, 0, 30).Format(time.RFC3339)
			}
			records = append(records, types.Record{
				Source:    types.GithubIssueSource,
				DataID:    fmt.Sprintf("gh_issue_%d", n),
				Timestamp: created.Format(time.RFC3339),
				RawText:   fmt.Sprintf("Synthetic issue %d\n\nGenerated by a dry run of the %s/%s collector.", n, owner, name),
				AuthorID:  g.anon.Token(fmt.Sprintf("user%d", n)),
				URL:       fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, name, n),
				Metadata:  metadata,
			})
		}
		return records, true, nil
	})
	return records, errorLog, nil
}

// pauseForRate applies the shared low-quota pause rule using go-github's
// typed rate information. Responses without rate headers carry a zero limit
// and pause nothing.
func pauseForRate(ctx context.Context, resp *github_api.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	sources.RateLimitPauseAt(ctx, resp.Rate.Remaining, resp.Rate.Reset.Time)
}

func labelNames(labels []github_api.Label) []string {
	names := []string{}
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func prLabelNames(labels []*github_api.Label) []string {
	names := []string{}
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

// splitRepo parses an "owner/name" repository reference.
func splitRepo(repo string) (string, string, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", skerr.Fmt("invalid repo %q, expected \"owner/name\"", repo)
	}
	return parts[0], parts[1], nil
}
