// Package correlation computes pairwise return correlations and gates
// new position admission on concentrated correlated exposure.
package correlation

import (
	"log"
	"math"
)

// Pearson returns the Pearson correlation coefficient of two
// equal-length, same-cadence series. Unusable input degrades to 0:
// mismatched or too-short series log a warning, zero-variance series
// return 0 silently to guard the divide.
func Pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		log.Printf("⚠️ correlation: unusable series lengths a=%d b=%d", len(a), len(b))
		return 0
	}

	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
