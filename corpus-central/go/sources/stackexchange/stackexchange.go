// Package stackexchange collects questions and answers from the Stack
// Exchange REST API.
package stackexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
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
	baseURL = "https://api.stackexchange.com/2.3"

	// Number of top-voted answers collected per question when
	// include_answers is set.
	maxAnswers = 5

	// Remaining daily quota below which every page logs a warning.
	quotaWarningThreshold = 100
)

// stackExchangeSource implements sources.DiscussionSource against
// api.stackexchange.com.
type stackExchangeSource struct {
	cfg        config.StackExchangeConfig
	anon       *anonymize.Anonymizer
	httpClient *http.Client
	key        string
	fromDate   time.Time
	toDate     time.Time
	dryRun     bool
}

type seOwner struct {
	DisplayName string `json:"display_name"`
}

func (o *seOwner) name() string {
	if o == nil {
		return ""
	}
	return o.DisplayName
}

type seQuestion struct {
	QuestionID   int64    `json:"question_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Tags         []string `json:"tags"`
	Score        int      `json:"score"`
	ViewCount    int      `json:"view_count"`
	AnswerCount  int      `json:"answer_count"`
	IsAnswered   bool     `json:"is_answered"`
	CreationDate int64    `json:"creation_date"`
	Link         string   `json:"link"`
	Owner        *seOwner `json:"owner"`
}

type seAnswer struct {
	AnswerID     int64    `json:"answer_id"`
	QuestionID   int64    `json:"question_id"`
	Score        int      `json:"score"`
	IsAccepted   bool     `json:"is_accepted"`
	Body         string   `json:"body"`
	CreationDate int64    `json:"creation_date"`
	Link         string   `json:"link"`
	Owner        *seOwner `json:"owner"`
}

type questionsResponse struct {
	Items          []seQuestion `json:"items"`
	HasMore        bool         `json:"has_more"`
	QuotaRemaining int          `json:"quota_remaining"`
}

type answersResponse struct {
	Items          []seAnswer `json:"items"`
	HasMore        bool       `json:"has_more"`
	QuotaRemaining int        `json:"quota_remaining"`
}

// New returns a DiscussionSource that collects questions, and optionally
// their top answers, for the configured tags. The API key is read from the
// environment variable named by the config; without one the API serves a
// reduced anonymous quota.
func New(ctx context.Context, cfg config.StackExchangeConfig, dateRange config.DateRangeConfig, anon *anonymize.Anonymizer, dryRun bool) (sources.DiscussionSource, error) {
	if len(cfg.Tags) == 0 {
		return nil, skerr.Fmt("stackexchange source is enabled but no tags are configured")
	}
	fromDate, err := dateRange.StartTime()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	toDate, err := dateRange.EndTime()
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	s := &stackExchangeSource{
		cfg:      cfg,
		anon:     anon,
		fromDate: fromDate,
		toDate:   toDate,
		dryRun:   dryRun,
	}
	if dryRun {
		return s, nil
	}
	s.key = os.Getenv(cfg.KeyEnvVar)
	if s.key == "" {
		sklog.Warningf("No Stack Exchange key in $%s; collecting at the anonymous quota.", cfg.KeyEnvVar)
	}
	s.httpClient = httputils.DefaultClientConfig().With2xxOnly().Client()
	return s, nil
}

// Name implements sources.DiscussionSource.
func (s *stackExchangeSource) Name() types.SourceFamily {
	return types.StackOverflowFamily
}

// Search implements sources.DiscussionSource.
func (s *stackExchangeSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	if s.dryRun {
		return s.mockSearch()
	}
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	for _, tag := range s.cfg.Tags {
		tagRecords, tagErrs := s.collectTag(ctx, tag)
		records = append(records, tagRecords...)
		errorLog = append(errorLog, tagErrs...)
	}
	sklog.Infof("Stack Exchange: %d records from %d tags, %d errors.", len(records), len(s.cfg.Tags), len(errorLog))
	return records, errorLog, nil
}

func (s *stackExchangeSource) collectTag(ctx context.Context, tag string) ([]types.Record, []types.ErrorEntry) {
	endpoint := fmt.Sprintf("stackexchange %s [%s]", s.cfg.Site, tag)
	return sources.Paginate(ctx, endpoint, s.cfg.MaxItems, s.cfg.PageDelay.Duration, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		var qr questionsResponse
		if err := s.get(ctx, s.questionsURL(tag, page), &qr); err != nil {
			return nil, false, err
		}
		if qr.QuotaRemaining < quotaWarningThreshold {
			sklog.Warningf("Stack Exchange quota low: %d requests remaining today.", qr.QuotaRemaining)
		}
		records := []types.Record{}
		for _, q := range qr.Items {
			records = append(records, s.questionRecord(q))
			if s.cfg.IncludeAnswers && q.AnswerCount > 0 {
				records = append(records, s.topAnswers(ctx, q.QuestionID)...)
			}
		}
		return records, qr.HasMore, nil
	})
}

func (s *stackExchangeSource) get(ctx context.Context, url string, dst interface{}) error {
	resp, err := httputils.GetWithContext(ctx, s.httpClient, url)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer util.Close(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return skerr.Wrapf(err, "decoding %s", url)
	}
	return nil
}

func (s *stackExchangeSource) questionsURL(tag string, page int) string {
	v := url.Values{}
	v.Set("order", "desc")
	v.Set("sort", "creation")
	v.Set("tagged", tag)
	v.Set("site", s.cfg.Site)
	v.Set("filter", "withbody")
	v.Set("pagesize", strconv.Itoa(s.cfg.PerPage))
	v.Set("page", strconv.Itoa(page))
	if s.key != "" {
		v.Set("key", s.key)
	}
	if !s.fromDate.IsZero() {
		v.Set("fromdate", strconv.FormatInt(s.fromDate.Unix(), 10))
	}
	if !s.toDate.IsZero() {
		v.Set("todate", strconv.FormatInt(s.toDate.Unix(), 10))
	}
	return fmt.Sprintf("%s/questions?%s", baseURL, v.Encode())
}

func (s *stackExchangeSource) answersURL(questionID int64) string {
	v := url.Values{}
	v.Set("order", "desc")
	v.Set("sort", "votes")
	v.Set("site", s.cfg.Site)
	v.Set("filter", "withbody")
	v.Set("pagesize", strconv.Itoa(maxAnswers))
	if s.key != "" {
		v.Set("key", s.key)
	}
	return fmt.Sprintf("%s/questions/%d/answers?%s", baseURL, questionID, v.Encode())
}

func (s *stackExchangeSource) questionRecord(q seQuestion) types.Record {
	return types.Record{
		Source:    types.StackOverflowQuestion,
		DataID:    fmt.Sprintf("so_q_%d", q.QuestionID),
		Timestamp: time.Unix(q.CreationDate, 0).UTC().Format(time.RFC3339),
		RawText:   sources.JoinTitleBody(q.Title, q.Body),
		AuthorID:  s.anon.Token(q.Owner.name()),
		URL:       q.Link,
		Metadata: map[string]interface{}{
			"question_id":  q.QuestionID,
			"tags":         q.Tags,
			"score":        q.Score,
			"view_count":   q.ViewCount,
			"answer_count": q.AnswerCount,
			"is_answered":  q.IsAnswered,
		},
	}
}

func (s *stackExchangeSource) answerRecord(a seAnswer) types.Record {
	link := a.Link
	if link == "" {
		// The withbody filter leaves link off answer objects; the main
		// Stack Exchange sites all follow the <site>.com/a/<id> scheme.
		link = fmt.Sprintf("https://%s.com/a/%d", s.cfg.Site, a.AnswerID)
	}
	return types.Record{
		Source:    types.StackOverflowAnswer,
		DataID:    fmt.Sprintf("so_a_%d", a.AnswerID),
		Timestamp: time.Unix(a.CreationDate, 0).UTC().Format(time.RFC3339),
		RawText:   a.Body,
		AuthorID:  s.anon.Token(a.Owner.name()),
		URL:       link,
		Metadata: map[string]interface{}{
			"question_id": a.QuestionID,
			"score":       a.Score,
			"is_accepted": a.IsAccepted,
		},
	}
}

func (s *stackExchangeSource) topAnswers(ctx context.Context, questionID int64) []types.Record {
	var ar answersResponse
	if err := s.get(ctx, s.answersURL(questionID), &ar); err != nil {
		sklog.Warningf("Could not fetch answers of question %d: %s", questionID, err)
		return nil
	}
	records := []types.Record{}
	for _, a := range ar.Items {
		if len(records) >= maxAnswers {
			break
		}
		records = append(records, s.answerRecord(a))
	}
	return records
}

// mockSearch produces a deterministic synthetic question feed for dry runs.
func (s *stackExchangeSource) mockSearch() ([]types.Record, []types.ErrorEntry, error) {
	records := make([]types.Record, 0, s.cfg.MaxItems)
	base := time.Date(2022, time.July, 1, 0, 0, 0, 0, time.UTC)
	for n := 0; n < s.cfg.MaxItems; n++ {
		created := base.AddDate(0, 0, 10*n)
		records = append(records, s.questionRecord(seQuestion{
			QuestionID:   int64(74000000 + n),
			Title:        fmt.Sprintf("Synthetic question %d about %s", n, s.cfg.Tags[0]),
			Body:         "<p>Generated by a dry run of the Stack Exchange collector.</p>",
			Tags:         []string{s.cfg.Tags[0]},
			Score:        n % 10,
			ViewCount:    100 + 17*n,
			AnswerCount:  n % 3,
			IsAnswered:   n%2 == 0,
			CreationDate: created.Unix(),
			Link:         fmt.Sprintf("https://stackoverflow.com/q/%d", 74000000+n),
			Owner:        &seOwner{DisplayName: fmt.Sprintf("user%d", n)},
		}))
	}
	return records, []types.ErrorEntry{}, nil
}
