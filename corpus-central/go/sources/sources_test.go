package sources

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/testutils/unittest"
)

func fakePage(page, n int) []types.Record {
	records := make([]types.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, types.Record{
			Source: types.HackerNewsStory,
			DataID: fmt.Sprintf("hn_story_%d_%d", page, i),
		})
	}
	return records
}

func TestPaginate_StopsAtMaxItems(t *testing.T) {
	unittest.SmallTest(t)

	calls := 0
	records, errorLog := Paginate(context.Background(), "test endpoint", 70, 0, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		calls++
		return fakePage(page, 30), true, nil
	})
	require.Empty(t, errorLog)
	require.Len(t, records, 70)
	require.Equal(t, 3, calls)
	// The overshoot from the last page is truncated.
	require.Equal(t, "hn_story_3_9", records[69].DataID)
}

func TestPaginate_StopsOnEmptyPage(t *testing.T) {
	unittest.SmallTest(t)

	records, errorLog := Paginate(context.Background(), "test endpoint", 1000, 0, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		if page == 3 {
			return nil, true, nil
		}
		return fakePage(page, 10), true, nil
	})
	require.Empty(t, errorLog)
	require.Len(t, records, 20)
}

func TestPaginate_StopsWhenNoMorePages(t *testing.T) {
	unittest.SmallTest(t)

	calls := 0
	records, errorLog := Paginate(context.Background(), "test endpoint", 1000, 0, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		calls++
		return fakePage(page, 10), false, nil
	})
	require.Empty(t, errorLog)
	require.Len(t, records, 10)
	require.Equal(t, 1, calls)
}

func TestPaginate_FailureKeepsPartialResults(t *testing.T) {
	unittest.SmallTest(t)

	records, errorLog := Paginate(context.Background(), "r/fermata search", 1000, 0, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		if page == 3 {
			return nil, false, fmt.Errorf("HTTP 503")
		}
		return fakePage(page, 10), true, nil
	})
	require.Len(t, records, 20)
	require.Len(t, errorLog, 1)
	require.Equal(t, "r/fermata search", errorLog[0].Endpoint)
	require.Contains(t, errorLog[0].Error, "503")
	require.NotEmpty(t, errorLog[0].Timestamp)
}

func TestPaginate_CanceledContextStops(t *testing.T) {
	unittest.SmallTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, errorLog := Paginate(ctx, "test endpoint", 1000, time.Hour, func(ctx context.Context, page int) ([]types.Record, bool, error) {
		return fakePage(page, 10), true, nil
	})
	require.Empty(t, records)
	require.Len(t, errorLog, 1)
}

func TestPauseDuration(t *testing.T) {
	unittest.SmallTest(t)

	ts := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := now.TimeTravelingContext(ts)

	// Healthy quota pauses nothing.
	require.Equal(t, time.Duration(0), pauseDuration(ctx, 5000, ts.Add(time.Hour)))
	require.Equal(t, time.Duration(0), pauseDuration(ctx, RateLimitLowWater, time.Time{}))

	// Low quota pauses at least a minute, even with no reset advertised.
	require.Equal(t, MinRateLimitPause, pauseDuration(ctx, 9, time.Time{}))
	require.Equal(t, MinRateLimitPause, pauseDuration(ctx, 9, ts.Add(10*time.Second)))

	// A later reset wins over the minimum.
	require.Equal(t, 5*time.Minute, pauseDuration(ctx, 0, ts.Add(5*time.Minute)))
}

func TestRateLimitPauseAt_HealthyQuotaReturnsImmediately(t *testing.T) {
	unittest.SmallTest(t)

	start := time.Now()
	RateLimitPauseAt(context.Background(), 100, time.Now().Add(time.Hour))
	require.Less(t, time.Since(start), time.Second)
}
