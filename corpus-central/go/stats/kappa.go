// Package stats implements the two statistical routines the pipeline needs:
// Cohen's kappa for inter-rater reliability and Pearson's chi-squared test of
// independence.
package stats

// CohenKappa computes Cohen's kappa for two raters' labels over the same
// items, in [-1, 1]. Chance agreement is estimated from each rater's marginal
// label distribution.
func CohenKappa(rater1, rater2 []string) float64 {
	n := len(rater1)
	if n == 0 || n != len(rater2) {
		return 0
	}

	agree := 0
	counts1 := map[string]int{}
	counts2 := map[string]int{}
	for i := range rater1 {
		if rater1[i] == rater2[i] {
			agree++
		}
		counts1[rater1[i]]++
		counts2[rater2[i]]++
	}

	po := float64(agree) / float64(n)
	pe := 0.0
	for label, c1 := range counts1 {
		pe += float64(c1) * float64(counts2[label]) / float64(n) / float64(n)
	}

	// Both raters used one identical label for everything. Observed agreement
	// is total, so report perfect agreement rather than 0/0.
	if pe == 1 {
		return 1.0
	}
	return (po - pe) / (1 - pe)
}

// KappaInterpretation returns the conventional Landis & Koch band for a kappa
// value.
func KappaInterpretation(kappa float64) string {
	switch {
	case kappa < 0:
		return "Poor"
	case kappa < 0.20:
		return "Slight"
	case kappa < 0.40:
		return "Fair"
	case kappa < 0.60:
		return "Moderate"
	case kappa < 0.80:
		return "Substantial"
	default:
		return "Almost Perfect"
	}
}
