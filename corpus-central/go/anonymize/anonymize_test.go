package anonymize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils/unittest"
)

func TestToken_Deterministic(t *testing.T) {
	unittest.SmallTest(t)

	a := New("study-salt")
	require.Equal(t, a.Token("octocat"), a.Token("octocat"))
}

func TestToken_DistinctIdsDiffer(t *testing.T) {
	unittest.SmallTest(t)

	a := New("study-salt")
	require.NotEqual(t, a.Token("octocat"), a.Token("octodog"))
}

func TestToken_SaltChangesMapping(t *testing.T) {
	unittest.SmallTest(t)

	require.NotEqual(t, New("salt1").Token("octocat"), New("salt2").Token("octocat"))
}

func TestToken_SixteenHexChars(t *testing.T) {
	unittest.SmallTest(t)

	hex16 := regexp.MustCompile(`^[0-9a-f]{16}$`)
	a := New("study-salt")
	for _, id := range []string{"octocat", "a", "user with spaces", "ユーザー"} {
		require.Regexp(t, hex16, a.Token(id))
	}
}

func TestToken_EmptyIdIsAnonymous(t *testing.T) {
	unittest.SmallTest(t)

	require.Equal(t, "anonymous", New("study-salt").Token(""))
}

func TestSaltFromEnv(t *testing.T) {
	unittest.SmallTest(t)

	t.Setenv("TEST_CORPUS_SALT", "from-env")
	require.Equal(t, "from-env", SaltFromEnv("TEST_CORPUS_SALT"))

	t.Setenv("TEST_CORPUS_SALT", "")
	require.Equal(t, "default_salt", SaltFromEnv("TEST_CORPUS_SALT"))
}
