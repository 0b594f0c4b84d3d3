// Package hackernews collects stories and comments from the Hacker News
// Algolia search API, with comment threads resolved through the Firebase API.
package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

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
	algoliaBaseURL  = "https://hn.algolia.com/api/v1"
	firebaseBaseURL = "https://hacker-news.firebaseio.com"
	itemURLFormat   = "https://news.ycombinator.com/item?id=%s"

	// Number of top-level comment ids resolved per story when
	// include_comments is set.
	maxKids = 10
)

// hackerNewsSource implements sources.DiscussionSource against the Algolia
// and Firebase Hacker News APIs.
type hackerNewsSource struct {
	cfg        config.HackerNewsConfig
	anon       *anonymize.Anonymizer
	httpClient *http.Client
	fromDate   time.Time
	toDate     time.Time
	dryRun     bool
}

type algoliaHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	StoryText   string `json:"story_text"`
	CreatedAtI  int64  `json:"created_at_i"`
}

type algoliaResponse struct {
	Hits    []algoliaHit `json:"hits"`
	NbPages int          `json:"nbPages"`
	Page    int          `json:"page"`
}

type firebaseItem struct {
	ID      int64   `json:"id"`
	By      string  `json:"by"`
	Text    string  `json:"text"`
	Time    int64   `json:"time"`
	Type    string  `json:"type"`
	Kids    []int64 `json:"kids"`
	Dead    bool    `json:"dead"`
	Deleted bool    `json:"deleted"`
}

// New returns a DiscussionSource that searches Hacker News for the configured
// queries. Neither API needs credentials.
func New(ctx context.Context, cfg config.HackerNewsConfig, dateRange config.DateRangeConfig, anon *anonymize.Anonymizer, dryRun bool) (sources.DiscussionSource, error) {
	if len(cfg.Queries) == 0 {
		return nil, skerr.Fmt("hackernews source is enabled but no queries are configured")
	}
	fromDate, err := dateRange.StartTime()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	toDate, err := dateRange.EndTime()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	h := &hackerNewsSource{
		cfg:      cfg,
		anon:     anon,
		fromDate: fromDate,
		toDate:   toDate,
		dryRun:   dryRun,
	}
	if !dryRun {
		h.httpClient = httputils.DefaultClientConfig().With2xxOnly().Client()
	}
	return h, nil
}

// Name implements sources.DiscussionSource.
func (h *hackerNewsSource) Name() types.SourceFamily {
	return types.HackerNewsFamily
}

// Search implements sources.DiscussionSource.
func (h *hackerNewsSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	if h.dryRun {
		return h.mockSearch()
	}
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	for _, query := range h.cfg.Queries {
		queryRecords, queryErrs := h.collectQuery(ctx, query)
		records = append(records, queryRecords...)
		errorLog = append(errorLog, queryErrs...)
	}
	sklog.Infof("Hacker News: %d records from %d queries, %d errors.", len(records), len(h.cfg.Queries), len(errorLog))
	return records, errorLog, nil
}

func (h *hackerNewsSource) collectQuery(ctx context.Context, query string) ([]types.Record, []types.ErrorEntry) {
	endpoint := fmt.Sprintf("hackernews search %q", query)
	return sources.Paginate(ctx, endpoint, h.cfg.MaxItems, h.cfg.PageDelay.Duration, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		searchURL := h.searchURL(query, page-1)
		resp, err := httputils.GetWithContext(ctx, h.httpClient, searchURL)
		if err != nil {
			return nil, false, skerr.Wrap(err)
		}
		defer util.Close(resp.Body)
		var ar algoliaResponse
		if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
			return nil, false, skerr.Wrapf(err, "decoding %s", searchURL)
		}
		records := []types.Record{}
		for _, hit := range ar.Hits {
			records = append(records, h.storyRecord(hit))
			if h.cfg.IncludeComments && hit.NumComments > 0 {
				records = append(records, h.storyComments(ctx, hit.ObjectID)...)
			}
		}
		return records, page < ar.NbPages, nil
	})
}

// searchURL builds an Algolia search_by_date URL; page is 0-based there.
func (h *hackerNewsSource) searchURL(query string, page int) string {
	v := url.Values{}
	v.Set("query", query)
	v.Set("tags", "story")
	v.Set("hitsPerPage", strconv.Itoa(h.cfg.PerPage))
	v.Set("page", strconv.Itoa(page))
	filters := ""
	if !h.fromDate.IsZero() {
		filters = fmt.Sprintf("created_at_i>=%d", h.fromDate.Unix())
	}
	if !h.toDate.IsZero() {
		if filters != "" {
			filters += ","
		}
		filters += fmt.Sprintf("created_at_i<=%d", h.toDate.Unix())
	}
	if filters != "" {
		v.Set("numericFilters", filters)
	}
	return fmt.Sprintf("%s/search_by_date?%s", algoliaBaseURL, v.Encode())
}

func (h *hackerNewsSource) storyRecord(hit algoliaHit) types.Record {
	return types.Record{
		Source:    types.HackerNewsStory,
		DataID:    fmt.Sprintf("hn_story_%s", hit.ObjectID),
		Timestamp: time.Unix(hit.CreatedAtI, 0).UTC().Format(time.RFC3339),
		RawText:   sources.JoinTitleBody(hit.Title, hit.StoryText),
		AuthorID:  h.anon.Token(hit.Author),
		URL:       fmt.Sprintf(itemURLFormat, hit.ObjectID),
		Metadata: map[string]interface{}{
			"points":       hit.Points,
			"num_comments": hit.NumComments,
			"external_url": hit.URL,
		},
	}
}

// storyComments resolves a story's first top-level comments through the
// Firebase API. Failures degrade to warnings; the story record stands alone.
func (h *hackerNewsSource) storyComments(ctx context.Context, objectID string) []types.Record {
	storyID, err := strconv.ParseInt(objectID, 10, 64)
	if err != nil {
		sklog.Warningf("Unparseable story id %q: %s", objectID, err)
		return nil
	}
	story, err := h.fetchItem(ctx, storyID)
	if err != nil {
		sklog.Warningf("Could not fetch story %d: %s", storyID, err)
		return nil
	}
	kids := story.Kids
	if len(kids) > maxKids {
		kids = kids[:maxKids]
	}
	records := []types.Record{}
	for _, kid := range kids {
		comment, err := h.fetchItem(ctx, kid)
		if err != nil {
			sklog.Warningf("Could not fetch comment %d: %s", kid, err)
			continue
		}
		if comment.Type != "comment" || comment.Dead || comment.Deleted || comment.Text == "" {
			continue
		}
		records = append(records, types.Record{
			Source:    types.HackerNewsComment,
			DataID:    fmt.Sprintf("hn_comment_%d", comment.ID),
			Timestamp: time.Unix(comment.Time, 0).UTC().Format(time.RFC3339),
			RawText:   comment.Text,
			AuthorID:  h.anon.Token(comment.By),
			URL:       fmt.Sprintf(itemURLFormat, strconv.FormatInt(comment.ID, 10)),
			Metadata: map[string]interface{}{
				"story_id": storyID,
			},
		})
	}
	return records
}

func (h *hackerNewsSource) fetchItem(ctx context.Context, id int64) (*firebaseItem, error) {
	itemURL := fmt.Sprintf("%s/v0/item/%d.json", firebaseBaseURL, id)
	resp, err := httputils.GetWithContext(ctx, h.httpClient, itemURL)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer util.Close(resp.Body)
	var item firebaseItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, skerr.Wrapf(err, "decoding %s", itemURL)
	}
	return &item, nil
}

// mockSearch produces a deterministic synthetic story feed for dry runs.
func (h *hackerNewsSource) mockSearch() ([]types.Record, []types.ErrorEntry, error) {
	records := make([]types.Record, 0, h.cfg.MaxItems)
	base := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	for n := 0; n < h.cfg.MaxItems; n++ {
		query := h.cfg.Queries[n%len(h.cfg.Queries)]
		created := base.AddDate(0, 0, 7*n)
		records = append(records, h.storyRecord(algoliaHit{
			ObjectID:    strconv.Itoa(35000000 + n),
			Title:       fmt.Sprintf("Synthetic story %d about %s", n, query),
			URL:         fmt.Sprintf("https://example.org/post/%d", n),
			Author:      fmt.Sprintf("user%d", n),
			Points:      n % 200,
			NumComments: n % 30,
			CreatedAtI:  created.Unix(),
		}))
	}
	return records, []types.ErrorEntry{}, nil
}
