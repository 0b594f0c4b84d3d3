package langfilter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils/unittest"
)

const (
	englishText = "The scheduler keeps crashing on startup whenever more than one worker is configured, and the logs are not helpful at all."
	russianText = "Планировщик постоянно падает при запуске, когда настроено больше одного воркера, и в логах нет ничего полезного."
)

func TestDetect(t *testing.T) {
	unittest.SmallTest(t)

	require.Equal(t, "eng", Detect(englishText))
	require.Equal(t, "rus", Detect(russianText))
	require.Equal(t, Unknown, Detect(""))
	require.Equal(t, Unknown, Detect("   \n\t  "))
}

func TestInclude_AllowList(t *testing.T) {
	unittest.SmallTest(t)

	f := New([]string{"eng"})
	require.True(t, f.Include(englishText))
	require.False(t, f.Include(russianText))
	require.False(t, f.Include(""))
}

func TestInclude_EmptyListMeansNoFilter(t *testing.T) {
	unittest.SmallTest(t)

	f := New(nil)
	require.True(t, f.Include(englishText))
	require.True(t, f.Include(russianText))
	require.True(t, f.Include(""))
}

func TestInclude_CaseInsensitiveConfig(t *testing.T) {
	unittest.SmallTest(t)

	f := New([]string{"ENG"})
	require.True(t, f.Include(englishText))
}
