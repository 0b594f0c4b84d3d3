package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils"
	"go.afterglow.org/research/go/testutils/unittest"
)

func TestLoadFromJSON5_Complete(t *testing.T) {
	unittest.SmallTest(t)

	td, err := testutils.TestDataDir()
	require.NoError(t, err)

	c, err := LoadFromJSON5(filepath.Join(td, "complete.json5"))
	require.NoError(t, err)

	assert.Equal(t, "fermata", c.Project)
	assert.True(t, c.Sources.Github.Enabled)
	assert.Equal(t, []string{"fermata-io/fermata"}, c.Sources.Github.Repos)
	assert.Equal(t, 500, c.Sources.Github.MaxItems)
	assert.Equal(t, 2*time.Second, c.Sources.Github.PageDelay.Duration)
	assert.True(t, c.Sources.Github.IncludeComments)
	assert.Equal(t, []string{"fermata"}, c.Sources.StackExchange.Tags)
	assert.False(t, c.Sources.GoogleGroups.Enabled)
	assert.Equal(t, "FERMATA_SALT", c.Anonymization.SaltEnvVar)
	assert.Equal(t, []string{"eng"}, c.Languages)
	assert.Equal(t, "./data", c.Output.Dir)
	assert.Equal(t, "2023-03-01", c.Tagging.PreLaunchEnd)
	assert.Equal(t, 120, c.Tagging.AbandonedThresholdDays)

	start, err := c.DateRange.StartTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestLoadFromJSON5_MinimalAppliesDefaults(t *testing.T) {
	unittest.SmallTest(t)

	td, err := testutils.TestDataDir()
	require.NoError(t, err)

	c, err := LoadFromJSON5(filepath.Join(td, "minimal.json5"))
	require.NoError(t, err)

	assert.Equal(t, "CORPUS_SALT", c.Anonymization.SaltEnvVar)
	assert.Equal(t, "GITHUB_TOKEN", c.Sources.Github.TokenEnvVar)
	assert.Equal(t, "stackoverflow", c.Sources.StackExchange.Site)
	assert.Equal(t, 200, c.Sources.Reddit.MaxItems)
	assert.Equal(t, 100, c.Sources.Reddit.PerPage)
	assert.Equal(t, 50, c.Sources.HackerNews.PerPage)
	assert.Equal(t, 2*time.Second, c.Sources.GoogleGroups.PageDelay.Duration)
	assert.Equal(t, 90, c.Tagging.AbandonedThresholdDays)
	assert.Empty(t, c.Languages)

	// Unset date range parses to the zero time.
	end, err := c.DateRange.EndTime()
	require.NoError(t, err)
	assert.True(t, end.IsZero())
}

func TestLoadFromJSON5_MissingRequiredFieldIsError(t *testing.T) {
	unittest.SmallTest(t)

	td, err := testutils.TestDataDir()
	require.NoError(t, err)

	_, err = LoadFromJSON5(filepath.Join(td, "missing_output.json5"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Required Dir to be non-zero")
}

func TestLoadFromJSON5_FileNotFound(t *testing.T) {
	unittest.SmallTest(t)

	_, err := LoadFromJSON5("/does/not/exist.json5")
	require.Error(t, err)
}
