// Package sources defines the interface the discussion sources implement and
// the shared pagination driver they are built on. One subpackage per site.
package sources

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/sklog"
)

const (
	// RateLimitLowWater is the remaining-quota level that triggers a pause.
	RateLimitLowWater = 10

	// MinRateLimitPause is the shortest pause once the quota is low, used
	// when the server does not advertise a reset time or it is sooner.
	MinRateLimitPause = 60 * time.Second
)

// ErrBlocked is returned by Search when the remote site's robots.txt
// disallows the crawl. The collector records the source as skipped, not
// failed.
var ErrBlocked = errors.New("crawl disallowed by robots.txt")

// CommentsSeparator marks where appended comment text begins in a record's
// raw text.
const CommentsSeparator = "--- Comments ---"

// DiscussionSource is one scrapable site.
type DiscussionSource interface {
	// Name returns the source family, used for artifact naming and stats.
	Name() types.SourceFamily

	// Search collects up to the configured number of records. Fetch failures
	// are recorded as ErrorEntries and abandon only the failing query; the
	// returned error is reserved for failures that make the whole source
	// unusable, e.g. bad credentials.
	Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error)
}

// FetchPage returns one page of records (pages start at 1) and whether more
// pages may follow.
type FetchPage func(ctx context.Context, page int) ([]types.Record, bool, error)

// Paginate drives a paged fetch for one query: page 1 upwards, stopping on an
// empty page, when maxItems records have accumulated, or when fetchPage
// reports no more pages. Consecutive pages are spaced at least pageDelay
// apart. A page failure is recorded against endpoint in the returned error
// log and ends the query; records accumulated so far are kept.
func Paginate(ctx context.Context, endpoint string, maxItems int, pageDelay time.Duration, fetchPage FetchPage) ([]types.Record, []types.ErrorEntry) {
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	limiter := rate.NewLimiter(rate.Every(pageDelay), 1)
	for page := 1; ; page++ {
		if err := limiter.Wait(ctx); err != nil {
			errorLog = append(errorLog, types.NewErrorEntry(endpoint, err, now.Now(ctx)))
			break
		}
		items, more, err := fetchPage(ctx, page)
		if err != nil {
			sklog.Warningf("Giving up on %s at page %d: %s", endpoint, page, err)
			errorLog = append(errorLog, types.NewErrorEntry(endpoint, err, now.Now(ctx)))
			break
		}
		if len(items) == 0 {
			break
		}
		records = append(records, items...)
		if len(records) >= maxItems {
			records = records[:maxItems]
			break
		}
		if !more {
			break
		}
	}
	return records, errorLog
}

// RateLimitPause inspects the conventional X-RateLimit-* headers on a
// response and, when the remaining quota is below the low-water mark, sleeps
// until the advertised reset time. A nil response or absent headers pause
// nothing. Reddit reports the remaining quota as a float, so parse as one.
func RateLimitPause(ctx context.Context, resp *http.Response) {
	if resp == nil {
		return
	}
	remaining, err := strconv.ParseFloat(resp.Header.Get("X-RateLimit-Remaining"), 64)
	if err != nil {
		return
	}
	var reset time.Time
	if epoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(epoch, 0)
	}
	RateLimitPauseAt(ctx, int(remaining), reset)
}

// RateLimitPauseAt pauses when remaining is below the low-water mark, until
// reset or for MinRateLimitPause, whichever is longer.
func RateLimitPauseAt(ctx context.Context, remaining int, reset time.Time) {
	pause := pauseDuration(ctx, remaining, reset)
	if pause == 0 {
		return
	}
	sklog.Warningf("Rate limit nearly exhausted (%d requests remaining), pausing %s", remaining, pause)
	sleepCtx(ctx, pause)
}

func pauseDuration(ctx context.Context, remaining int, reset time.Time) time.Duration {
	if remaining >= RateLimitLowWater {
		return 0
	}
	pause := MinRateLimitPause
	if d := reset.Sub(now.Now(ctx)); d > pause {
		pause = d
	}
	return pause
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// JoinTitleBody builds a record's raw text from a title and a body, either of
// which may be empty.
func JoinTitleBody(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" {
		return body
	}
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}

// AppendComments appends discussion comments to a record's raw text under a
// separator so that downstream coding sees the full conversation.
func AppendComments(text string, comments []string) string {
	nonEmpty := make([]string, 0, len(comments))
	for _, c := range comments {
		if c = strings.TrimSpace(c); c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 0 {
		return text
	}
	return text + "\n\n" + CommentsSeparator + "\n" + strings.Join(nonEmpty, "\n")
}
