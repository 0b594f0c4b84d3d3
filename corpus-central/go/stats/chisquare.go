// Pearson's chi-squared test of independence.
//
// The p-value comes from the chi-squared survival function, computed with the
// regularized incomplete gamma functions. That code is adapted from [SciPy]'s
// cephes implementation, which is provided under a BSD-style license.
//
// [SciPy]: https://github.com/scipy/scipy/blob/master/scipy/special/cephes/igam.c

package stats

import (
	"math"

	"go.afterglow.org/research/go/skerr"
)

// ChiSquare runs Pearson's chi-squared test of independence on an observed
// contingency table of counts. It returns the test statistic, the degrees of
// freedom, and the p-value.
func ChiSquare(observed [][]int) (float64, int, float64, error) {
	rows := len(observed)
	if rows == 0 {
		return 0, 0, 0, skerr.Fmt("contingency table is empty")
	}
	cols := len(observed[0])

	rowSums := make([]float64, rows)
	colSums := make([]float64, cols)
	total := 0.0
	for i, row := range observed {
		if len(row) != cols {
			return 0, 0, 0, skerr.Fmt("contingency table is ragged: row %d has %d columns, expected %d", i, len(row), cols)
		}
		for j, count := range row {
			if count < 0 {
				return 0, 0, 0, skerr.Fmt("contingency table has a negative count at [%d][%d]", i, j)
			}
			rowSums[i] += float64(count)
			colSums[j] += float64(count)
			total += float64(count)
		}
	}
	if total == 0 {
		return 0, 0, 0, skerr.Fmt("contingency table is all zeros")
	}

	chi2 := 0.0
	for i, row := range observed {
		for j, count := range row {
			expected := rowSums[i] * colSums[j] / total
			if expected == 0 {
				return 0, 0, 0, skerr.Fmt("expected frequency at [%d][%d] is zero, drop the empty row or column", i, j)
			}
			d := float64(count) - expected
			chi2 += d * d / expected
		}
	}

	dof := (rows - 1) * (cols - 1)
	if dof == 0 {
		// A single row or column is trivially independent.
		return 0, 0, 1.0, nil
	}
	return chi2, dof, chiSquareSf(chi2, dof), nil
}

// chiSquareSf is the survival function of the chi-squared distribution with
// dof degrees of freedom.
func chiSquareSf(x float64, dof int) float64 {
	return igamc(float64(dof)/2.0, x/2.0)
}

const (
	machEp = 1.11022302462515654042e-16
	maxLog = 7.09782712893383996843e2
	big    = 4.503599627370496e15
	bigInv = 2.22044604925031308085e-16
)

// igamc computes the complemented regularized incomplete gamma integral by
// continued fraction.
func igamc(a, x float64) float64 {
	if x <= 0 || a <= 0 {
		return 1.0
	}
	if x < 1.0 || x < a {
		return 1.0 - igam(a, x)
	}

	ax := a*math.Log(x) - x - lgamma(a)
	if ax < -maxLog {
		// Underflow.
		return 0.0
	}
	ax = math.Exp(ax)

	y := 1.0 - a
	z := x + y + 1.0
	c := 0.0
	pkm2 := 1.0
	qkm2 := x
	pkm1 := x + 1.0
	qkm1 := z * x
	ans := pkm1 / qkm1
	for {
		c += 1.0
		y += 1.0
		z += 2.0
		yc := y * c
		pk := pkm1*z - pkm2*yc
		qk := qkm1*z - qkm2*yc
		var t float64
		if qk != 0 {
			r := pk / qk
			t = math.Abs((ans - r) / r)
			ans = r
		} else {
			t = 1.0
		}
		pkm2 = pkm1
		pkm1 = pk
		qkm2 = qkm1
		qkm1 = qk
		if math.Abs(pk) > big {
			pkm2 *= bigInv
			pkm1 *= bigInv
			qkm2 *= bigInv
			qkm1 *= bigInv
		}
		if t <= machEp {
			break
		}
	}
	return ans * ax
}

// igam computes the regularized incomplete gamma integral by power series.
func igam(a, x float64) float64 {
	if x <= 0 || a <= 0 {
		return 0.0
	}
	if x > 1.0 && x > a {
		return 1.0 - igamc(a, x)
	}

	ax := a*math.Log(x) - x - lgamma(a)
	if ax < -maxLog {
		// Underflow.
		return 0.0
	}
	ax = math.Exp(ax)

	r := a
	c := 1.0
	ans := 1.0
	for {
		r += 1.0
		c *= x / r
		ans += c
		if c/ans <= machEp {
			break
		}
	}
	return ans * ax / a
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
