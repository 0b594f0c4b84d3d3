package types

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils"
	"go.afterglow.org/research/go/testutils/unittest"
)

func TestSourceFamily(t *testing.T) {
	unittest.SmallTest(t)

	tests := []struct {
		source   Source
		expected SourceFamily
	}{
		{source: GithubIssueSource, expected: GithubFamily},
		{source: GithubPRSource, expected: GithubFamily},
		{source: StackOverflowQuestion, expected: StackOverflowFamily},
		{source: StackOverflowAnswer, expected: StackOverflowFamily},
		{source: RedditPost, expected: RedditFamily},
		{source: HackerNewsStory, expected: HackerNewsFamily},
		{source: HackerNewsComment, expected: HackerNewsFamily},
		{source: GoogleGroupsThread, expected: GoogleGroupsFamily},
		{source: Source("telegram_message"), expected: SourceFamily("")},
	}
	for _, test := range tests {
		require.Equal(t, test.expected, test.source.Family())
	}
}

func TestRecordsCSV_RoundTrip(t *testing.T) {
	unittest.SmallTest(t)

	records := []Record{
		{
			Source:    GithubIssueSource,
			DataID:    "gh_issue_42",
			Timestamp: "2023-04-01T12:00:00Z",
			RawText:   "Crash on startup\n\nThe app crashes, with \"quotes\", commas, and\nnewlines in the body.",
			AuthorID:  "a1b2c3d4e5f60718",
			URL:       "https://github.com/fermata-io/fermata/issues/42",
			Metadata: map[string]interface{}{
				"state":          "open",
				"labels":         []interface{}{"bug", "crash"},
				"comments_count": 3.0,
			},
		},
		{
			Source:    GoogleGroupsThread,
			DataID:    "gg_0123456789ab",
			Timestamp: "",
			RawText:   "Is the project dead?",
			AuthorID:  AnonymousAuthor,
			URL:       "https://groups.google.com/g/fermata-users/c/abc",
			Metadata:  map[string]interface{}{},
		},
	}

	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, WriteRecords(path, records))
	readBack, err := ReadRecords(path)
	require.NoError(t, err)
	testutils.AssertDeepEqual(t, records, readBack)
}

func TestReadCodedRecords_RawFileReadsBlankCodes(t *testing.T) {
	unittest.SmallTest(t)

	records := []Record{
		{
			Source:    RedditPost,
			DataID:    "reddit_xyz",
			Timestamp: "2024-01-01T00:00:00Z",
			RawText:   "Why I stopped using fermata",
			AuthorID:  "00ff00ff00ff00ff",
			URL:       "https://reddit.com/r/fermata/comments/xyz",
			Metadata:  map[string]interface{}{"score": 17.0},
		},
	}
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, WriteRecords(path, records))

	coded, err := ReadCodedRecords(path)
	require.NoError(t, err)
	require.Len(t, coded, 1)
	testutils.AssertDeepEqual(t, records[0], coded[0].Record)
	require.Equal(t, CoderColumns{}, coded[0].Coder1)
	require.Equal(t, CoderColumns{}, coded[0].Coder2)
}

func TestReadRecords_WrongHeaderIsError(t *testing.T) {
	unittest.SmallTest(t)

	path := filepath.Join(t.TempDir(), "pilot.csv")
	require.NoError(t, WritePilotRecords(path, []PilotRecord{
		{
			Source:  HackerNewsStory,
			DataID:  "hn_story_1",
			RawText: "Fermata shutting down",
			Coder1:  CoderColumns{PrimaryCode: "COMMUNITY_ADOPTION.DECLINE"},
		},
	}))

	_, err := ReadRecords(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected")
}

func TestCodedRecordsCSV_RoundTrip(t *testing.T) {
	unittest.SmallTest(t)

	coded := []CodedRecord{
		{
			Record: Record{
				Source:    StackOverflowQuestion,
				DataID:    "so_q_777",
				Timestamp: "2023-07-04T09:30:00Z",
				RawText:   "How do I configure fermata?\n\nThe docs are unclear.",
				AuthorID:  "deadbeefdeadbeef",
				URL:       "https://stackoverflow.com/q/777",
				Metadata:  map[string]interface{}{"is_answered": true, "score": 4.0},
			},
			Coder1: CoderColumns{PrimaryCode: "USABILITY_DX.DOCS", Confidence: "4", Notes: "clear case"},
			Coder2: CoderColumns{PrimaryCode: "USABILITY_DX.DOCS", SecondaryCode: "COMMUNITY_ADOPTION.SUPPORT", Confidence: "3"},
		},
	}

	path := filepath.Join(t.TempDir(), "coded.csv")
	require.NoError(t, WriteCodedRecords(path, coded))
	readBack, err := ReadCodedRecords(path)
	require.NoError(t, err)
	testutils.AssertDeepEqual(t, coded, readBack)
}
