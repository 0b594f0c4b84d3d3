package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/go/testutils/unittest"
)

func TestCohenKappa(t *testing.T) {
	unittest.SmallTest(t)

	tests := []struct {
		rater1   []string
		rater2   []string
		expected float64
		message  string
	}{
		{
			rater1:   []string{"A", "B", "A", "C", "B"},
			rater2:   []string{"A", "B", "A", "C", "B"},
			expected: 1.0,
			message:  "identical sequences should have perfect agreement",
		},
		{
			rater1:   []string{"A", "A", "A"},
			rater2:   []string{"A", "A", "A"},
			expected: 1.0,
			message:  "a single shared label should count as perfect agreement, not 0/0",
		},
		{
			rater1:   []string{"A", "A", "B", "B"},
			rater2:   []string{"B", "B", "A", "A"},
			expected: -1.0,
			message:  "a complete inversion should have kappa -1",
		},
		{
			// po = 4/6, pe = 1/2.
			rater1:   []string{"A", "A", "A", "B", "B", "B"},
			rater2:   []string{"A", "A", "B", "B", "B", "A"},
			expected: 1.0 / 3.0,
			message:  "two swapped labels out of six",
		},
		{
			rater1:   []string{},
			rater2:   []string{},
			expected: 0,
			message:  "no pairs means no agreement to measure",
		},
	}
	for _, test := range tests {
		require.InDelta(t, test.expected, CohenKappa(test.rater1, test.rater2), 1e-9, test.message)
	}
}

func TestCohenKappa_InversionBelowHalf(t *testing.T) {
	unittest.SmallTest(t)

	rater1 := []string{"A", "B", "A", "B", "A", "B"}
	rater2 := []string{"B", "A", "B", "A", "B", "A"}
	require.Less(t, CohenKappa(rater1, rater2), 0.5)
}

func TestKappaInterpretation(t *testing.T) {
	unittest.SmallTest(t)

	tests := []struct {
		kappa    float64
		expected string
	}{
		{kappa: -0.2, expected: "Poor"},
		{kappa: 0, expected: "Slight"},
		{kappa: 0.19, expected: "Slight"},
		{kappa: 0.2, expected: "Fair"},
		{kappa: 0.45, expected: "Moderate"},
		{kappa: 0.7, expected: "Substantial"},
		{kappa: 0.8, expected: "Almost Perfect"},
		{kappa: 1.0, expected: "Almost Perfect"},
	}
	for _, test := range tests {
		require.Equal(t, test.expected, KappaInterpretation(test.kappa))
	}
}

func TestChiSquare(t *testing.T) {
	unittest.SmallTest(t)

	// Textbook 2x2 table. Expected frequencies are all 15, chi2 = 4*25/15.
	chi2, dof, p, err := ChiSquare([][]int{{10, 20}, {20, 10}})
	require.NoError(t, err)
	require.InDelta(t, 6.6667, chi2, 1e-3)
	require.Equal(t, 1, dof)
	require.InDelta(t, 0.00982, p, 1e-4)
}

func TestChiSquare_IndependentTable(t *testing.T) {
	unittest.SmallTest(t)

	// Perfectly proportional rows give a statistic of zero and p of one.
	chi2, dof, p, err := ChiSquare([][]int{{10, 20}, {20, 40}})
	require.NoError(t, err)
	require.InDelta(t, 0, chi2, 1e-9)
	require.Equal(t, 1, dof)
	require.InDelta(t, 1.0, p, 1e-9)
}

func TestChiSquare_LargerTable(t *testing.T) {
	unittest.SmallTest(t)

	chi2, dof, p, err := ChiSquare([][]int{
		{30, 10, 5},
		{10, 25, 10},
	})
	require.NoError(t, err)
	require.Equal(t, 2, dof)
	require.Greater(t, chi2, 0.0)
	require.Greater(t, p, 0.0)
	require.Less(t, p, 0.05)
}

func TestChiSquare_Errors(t *testing.T) {
	unittest.SmallTest(t)

	_, _, _, err := ChiSquare([][]int{})
	require.Error(t, err)

	_, _, _, err = ChiSquare([][]int{{1, 2}, {3}})
	require.Error(t, err)

	_, _, _, err = ChiSquare([][]int{{0, 0}, {0, 0}})
	require.Error(t, err)

	// An all-zero column makes an expected frequency zero.
	_, _, _, err = ChiSquare([][]int{{1, 0}, {3, 0}})
	require.Error(t, err)

	_, _, _, err = ChiSquare([][]int{{1, -2}, {3, 4}})
	require.Error(t, err)
}
