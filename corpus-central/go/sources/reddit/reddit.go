// Package reddit collects submissions from subreddit keyword searches via
// Reddit's OAuth API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"go.afterglow.org/research/corpus-central/go/anonymize"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/httputils"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/util"
)

const (
	apiBaseURL = "https://oauth.reddit.com"
	tokenURL   = "https://www.reddit.com/api/v1/access_token"

	// Reddit rejects requests without a descriptive User-Agent.
	userAgent = "go:corpus-central:v1.0 (research data collection)"

	// Number of top-level comments appended to a submission's text when
	// include_comments is set.
	maxComments = 5

	// The author name Reddit reports for deleted accounts.
	deletedAuthor = "[deleted]"
)

// redditSource implements sources.DiscussionSource against oauth.reddit.com.
type redditSource struct {
	cfg        config.RedditConfig
	anon       *anonymize.Anonymizer
	httpClient *http.Client
	dryRun     bool
}

// redditItem is the data envelope shared by submissions (selftext) and
// comments (body).
type redditItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Flair       string  `json:"link_flair_text"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditItem `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// userAgentTransport sets the User-Agent header on every request, token
// requests included.
type userAgentTransport struct {
	rt http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	return t.rt.RoundTrip(req)
}

// New returns a DiscussionSource that searches the configured subreddits for
// the configured keywords. App credentials are read from the environment
// variables named by the config and exchanged for an app-only OAuth token.
func New(ctx context.Context, cfg config.RedditConfig, anon *anonymize.Anonymizer, dryRun bool) (sources.DiscussionSource, error) {
	if len(cfg.Subreddits) == 0 {
		return nil, skerr.Fmt("reddit source is enabled but no subreddits are configured")
	}
	if len(cfg.Keywords) == 0 {
		return nil, skerr.Fmt("reddit source is enabled but no keywords are configured")
	}
	r := &redditSource{
		cfg:    cfg,
		anon:   anon,
		dryRun: dryRun,
	}
	if dryRun {
		return r, nil
	}
	clientID := os.Getenv(cfg.ClientIDEnvVar)
	clientSecret := os.Getenv(cfg.ClientSecretEnvVar)
	if clientID == "" || clientSecret == "" {
		return nil, skerr.Fmt("reddit credentials missing; set $%s and $%s", cfg.ClientIDEnvVar, cfg.ClientSecretEnvVar)
	}
	conf := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	base := httputils.DefaultClientConfig().With2xxOnly().Client()
	base.Transport = &userAgentTransport{rt: base.Transport}
	r.httpClient = conf.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	return r, nil
}

// Name implements sources.DiscussionSource.
func (r *redditSource) Name() types.SourceFamily {
	return types.RedditFamily
}

// Search implements sources.DiscussionSource. The configured max_items is
// split evenly across the subreddit x keyword query grid.
func (r *redditSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	if r.dryRun {
		return r.mockSearch()
	}
	budget := r.cfg.MaxItems / (len(r.cfg.Subreddits) * len(r.cfg.Keywords))
	if budget < 1 {
		budget = 1
	}
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	for _, subreddit := range r.cfg.Subreddits {
		for _, keyword := range r.cfg.Keywords {
			queryRecords, queryErrs := r.collectQuery(ctx, subreddit, keyword, budget)
			records = append(records, queryRecords...)
			errorLog = append(errorLog, queryErrs...)
		}
	}
	sklog.Infof("Reddit: %d records from %d queries, %d errors.", len(records), len(r.cfg.Subreddits)*len(r.cfg.Keywords), len(errorLog))
	return records, errorLog, nil
}

func (r *redditSource) collectQuery(ctx context.Context, subreddit, keyword string, budget int) ([]types.Record, []types.ErrorEntry) {
	endpoint := fmt.Sprintf("r/%s search %q", subreddit, keyword)
	after := ""
	return sources.Paginate(ctx, endpoint, budget, r.cfg.PageDelay.Duration, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		searchURL := r.searchURL(subreddit, keyword, after)
		resp, err := httputils.GetWithContext(ctx, r.httpClient, searchURL)
		if err != nil {
			return nil, false, skerr.Wrap(err)
		}
		defer util.Close(resp.Body)
		var listing redditListing
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			return nil, false, skerr.Wrapf(err, "decoding %s", searchURL)
		}
		records := make([]types.Record, 0, len(listing.Data.Children))
		for _, child := range listing.Data.Children {
			records = append(records, r.postRecord(ctx, child.Data))
		}
		after = listing.Data.After
		sources.RateLimitPause(ctx, resp)
		return records, after != "", nil
	})
}

func (r *redditSource) searchURL(subreddit, keyword, after string) string {
	v := url.Values{}
	v.Set("q", keyword)
	v.Set("restrict_sr", "on")
	v.Set("sort", "new")
	v.Set("limit", strconv.Itoa(r.cfg.PerPage))
	if after != "" {
		v.Set("after", after)
	}
	return fmt.Sprintf("%s/r/%s/search?%s", apiBaseURL, subreddit, v.Encode())
}

func (r *redditSource) postRecord(ctx context.Context, post redditItem) types.Record {
	rawText := sources.JoinTitleBody(post.Title, post.SelfText)
	if r.cfg.IncludeComments && post.NumComments > 0 {
		rawText = sources.AppendComments(rawText, r.topComments(ctx, post.ID))
	}
	author := post.Author
	if author == deletedAuthor {
		author = ""
	}
	return types.Record{
		Source:    types.RedditPost,
		DataID:    fmt.Sprintf("reddit_%s", post.ID),
		Timestamp: time.Unix(int64(post.CreatedUTC), 0).UTC().Format(time.RFC3339),
		RawText:   rawText,
		AuthorID:  r.anon.Token(author),
		URL:       "https://www.reddit.com" + post.Permalink,
		Metadata: map[string]interface{}{
			"subreddit":    post.Subreddit,
			"score":        post.Score,
			"upvote_ratio": post.UpvoteRatio,
			"num_comments": post.NumComments,
			"flair":        post.Flair,
		},
	}
}

func (r *redditSource) topComments(ctx context.Context, id string) []string {
	// The comments endpoint returns two listings: the submission itself,
	// then its top-level comments.
	commentsURL := fmt.Sprintf("%s/comments/%s?depth=1&limit=%d", apiBaseURL, id, maxComments)
	resp, err := httputils.GetWithContext(ctx, r.httpClient, commentsURL)
	if err != nil {
		sklog.Warningf("Could not fetch comments of %s: %s", id, err)
		return nil
	}
	defer util.Close(resp.Body)
	var listings []redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		sklog.Warningf("Could not decode comments of %s: %s", id, err)
		return nil
	}
	if len(listings) < 2 {
		return nil
	}
	comments := []string{}
	for _, child := range listings[1].Data.Children {
		if len(comments) >= maxComments {
			break
		}
		if child.Data.Body != "" {
			comments = append(comments, child.Data.Body)
		}
	}
	return comments
}

// mockSearch produces a deterministic synthetic submission feed for dry runs,
// round-robining the configured subreddits and keywords.
func (r *redditSource) mockSearch() ([]types.Record, []types.ErrorEntry, error) {
	records := make([]types.Record, 0, r.cfg.MaxItems)
	base := time.Date(2023, time.February, 1, 0, 0, 0, 0, time.UTC)
	for n := 0; n < r.cfg.MaxItems; n++ {
		subreddit := r.cfg.Subreddits[n%len(r.cfg.Subreddits)]
		keyword := r.cfg.Keywords[n%len(r.cfg.Keywords)]
		created := base.AddDate(0, 0, 7*n)
		flair := ""
		if n%4 == 0 {
			flair = "Help"
		}
		records = append(records, r.postRecord(context.Background(), redditItem{
			ID:          fmt.Sprintf("mock%04d", n),
			Title:       fmt.Sprintf("Synthetic post %d about %s", n, keyword),
			SelfText:    "Generated by a dry run of the Reddit collector.",
			Author:      fmt.Sprintf("user%d", n),
			Subreddit:   subreddit,
			Score:       n % 50,
			UpvoteRatio: 0.5 + float64(n%50)/100,
			NumComments: 0,
			Flair:       flair,
			CreatedUTC:  float64(created.Unix()),
			Permalink:   fmt.Sprintf("/r/%s/comments/mock%04d/synthetic_post/", subreddit, n),
		}))
	}
	return records, []types.ErrorEntry{}, nil
}
