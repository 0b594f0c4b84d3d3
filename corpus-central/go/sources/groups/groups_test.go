package groups

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/corpus-central/go/anonymize"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/mockhttpclient"
	"go.afterglow.org/research/go/testutils"
	"go.afterglow.org/research/go/testutils/unittest"
)

const permissiveRobots = "User-agent: *\nDisallow: /private/\n"

func TestParseTopics(t *testing.T) {
	unittest.SmallTest(t)

	page := testutils.MustReadFile("group_page.html")
	topics, err := parseTopics(strings.NewReader(page), "fermata-users")
	require.NoError(t, err)
	require.Len(t, topics, 2)

	// The reply link repeats topic AbC123dEf and must not duplicate it;
	// links of other groups are ignored.
	require.Equal(t, "AbC123dEf", topics[0].id)
	require.Equal(t, "https://groups.google.com/g/fermata-users/c/AbC123dEf", topics[0].url)
	require.Equal(t, "Sync fails with error 17", topics[0].title)
	require.Equal(t, "GhI456jKl", topics[1].id)
	require.Equal(t, "Feature request: dark mode", topics[1].title)
}

func TestSearch(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()

	r := mux.NewRouter()
	r.Schemes("https").Host("groups.google.com").Methods("GET").Path("/robots.txt").Handler(mockhttpclient.MockGetDialogue([]byte(permissiveRobots)))
	r.Schemes("https").Host("groups.google.com").Methods("GET").Path("/g/fermata-users").Queries("hl", "en").Handler(mockhttpclient.MockGetDialogue([]byte(testutils.MustReadFile("group_page.html"))))

	anon := anonymize.New("test_salt")
	g := &groupsSource{
		cfg: config.GoogleGroupsConfig{
			Enabled:  true,
			Groups:   []string{"fermata-users"},
			MaxItems: 10,
		},
		anon:       anon,
		httpClient: mockhttpclient.NewMuxClient(r),
	}
	records, errorLog, err := g.Search(ctx)
	require.NoError(t, err)
	require.Empty(t, errorLog)
	require.Len(t, records, 2)

	require.Equal(t, types.GoogleGroupsThread, records[0].Source)
	require.Regexp(t, "^gg_[0-9a-f]{12}$", records[0].DataID)
	require.Equal(t, dataID("https://groups.google.com/g/fermata-users/c/AbC123dEf"), records[0].DataID)
	require.Equal(t, "", records[0].Timestamp)
	require.Equal(t, "Sync fails with error 17", records[0].RawText)
	require.Equal(t, types.AnonymousAuthor, records[0].AuthorID)
	testutils.AssertDeepEqual(t, map[string]interface{}{
		"group":       "fermata-users",
		"topic_id":    "AbC123dEf",
		"has_snippet": true,
	}, records[0].Metadata)
}

func TestSearch_RobotsBlocked(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()

	r := mux.NewRouter()
	r.Schemes("https").Host("groups.google.com").Methods("GET").Path("/robots.txt").Handler(mockhttpclient.MockGetDialogue([]byte("User-agent: *\nDisallow: /g/\n")))

	g := &groupsSource{
		cfg: config.GoogleGroupsConfig{
			Enabled:  true,
			Groups:   []string{"fermata-users"},
			MaxItems: 10,
		},
		anon:       anonymize.New("test_salt"),
		httpClient: mockhttpclient.NewMuxClient(r),
	}
	records, errorLog, err := g.Search(ctx)
	require.True(t, errors.Is(err, sources.ErrBlocked))
	require.Empty(t, records)
	require.Empty(t, errorLog)
}

func TestSearch_DryRun(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()

	anon := anonymize.New("test_salt")
	g, err := New(ctx, config.GoogleGroupsConfig{
		Enabled:  true,
		Groups:   []string{"fermata-users", "fermata-dev"},
		MaxItems: 8,
	}, anon, true)
	require.NoError(t, err)
	require.Equal(t, types.GoogleGroupsFamily, g.Name())

	records, errorLog, err := g.Search(ctx)
	require.NoError(t, err)
	require.Empty(t, errorLog)
	require.Len(t, records, 8)
	require.Equal(t, "fermata-users", records[0].Metadata["group"])
	require.Equal(t, "fermata-dev", records[1].Metadata["group"])
	require.Equal(t, "", records[0].Timestamp)

	again, _, err := g.Search(ctx)
	require.NoError(t, err)
	testutils.AssertDeepEqual(t, records, again)
}

func TestNew_InvalidConfig(t *testing.T) {
	unittest.SmallTest(t)
	ctx := context.Background()

	_, err := New(ctx, config.GoogleGroupsConfig{Enabled: true}, anonymize.New("test_salt"), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no groups")
}
