package now

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils/unittest"
)

var mockTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestNow_NoValueInContext_ReturnsWallClock(t *testing.T) {
	unittest.SmallTest(t)
	before := time.Now()
	actual := Now(context.Background())
	after := time.Now()
	require.False(t, actual.Before(before))
	require.False(t, actual.After(after))
}

func TestNow_TimeInContext_ReturnsThatTime(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.WithValue(context.Background(), ContextKey, mockTime)
	assert.Equal(t, mockTime, Now(ctx))
}

func TestNow_ProviderInContext_EvaluatedEachCall(t *testing.T) {
	unittest.SmallTest(t)
	calls := 0
	provider := NowProvider(func() time.Time {
		calls++
		return mockTime.Add(time.Duration(calls) * time.Second)
	})
	ctx := context.WithValue(context.Background(), ContextKey, provider)
	assert.Equal(t, mockTime.Add(time.Second), Now(ctx))
	assert.Equal(t, mockTime.Add(2*time.Second), Now(ctx))
}

func TestTimeTravelingContext_SetTime_ChangesReportedTime(t *testing.T) {
	unittest.SmallTest(t)
	ctx := TimeTravelingContext(mockTime)
	assert.Equal(t, mockTime, Now(ctx))
	later := mockTime.AddDate(0, 0, 91)
	ctx.SetTime(later)
	assert.Equal(t, later, Now(ctx))
}
