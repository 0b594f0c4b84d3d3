package util

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils/unittest"
)

func TestIn(t *testing.T) {
	unittest.SmallTest(t)
	assert.True(t, In("wontfix", []string{"bug", "wontfix"}))
	assert.False(t, In("wontfix", []string{"bug"}))
	assert.False(t, In("wontfix", nil))
}

func TestAtMost(t *testing.T) {
	unittest.SmallTest(t)
	assert.Equal(t, []string{"a", "b"}, AtMost([]string{"a", "b", "c"}, 2))
	assert.Equal(t, []string{"a"}, AtMost([]string{"a"}, 5))
	assert.Empty(t, AtMost([]string{"a"}, 0))
}

func TestTruncate(t *testing.T) {
	unittest.SmallTest(t)
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "lon...", Truncate("longer string", 6))
	assert.Equal(t, "lo", Truncate("longer string", 2))
}

func TestMinIntMaxInt(t *testing.T) {
	unittest.SmallTest(t)
	assert.Equal(t, 2, MinInt(2, 5))
	assert.Equal(t, 2, MinInt(5, 2))
	assert.Equal(t, -1, MinInt(-1, 0))
	assert.Equal(t, 5, MaxInt(2, 5))
	assert.Equal(t, 5, MaxInt(5, 2))
	assert.Equal(t, 0, MaxInt(-1, 0))
}

func TestWithWriteFile_ThenRead_RoundTrips(t *testing.T) {
	unittest.MediumTest(t)
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, WithWriteFile(path, func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	}))
	var got []byte
	require.NoError(t, WithReadFile(path, func(r io.Reader) error {
		var err error
		got, err = io.ReadAll(r)
		return err
	}))
	assert.Equal(t, "hello", string(got))
	// The temporary intermediate must not be left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
