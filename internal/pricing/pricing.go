// Package pricing implements the Bank's deterministic interest rate model.
package pricing

import "math"

// Model weights. These are load-bearing: persisted quotes were produced
// with them, so they must not drift.
const (
	warRiskWeight      = 0.75
	reputationWeight   = 0.25
	riskScale          = 0.9
	baselineRate       = 0.1
	openLoanPenalty    = 5.0
	closedLoanDiscount = 0.5
	minimumRate        = 1.0
)

// Rate computes the interest rate percent for a loan offer.
//
// warRisk and reputation are expected in [0,1]; higher war risk raises the
// rate, higher reputation lowers it. Each open loan adds 5 percentage
// points, each repaid loan subtracts 0.5. The result is rounded to two
// decimals and floored at 1.0. Pure and total: identical inputs always
// yield the identical output.
func Rate(warRisk, reputation float64, openLoans, closedLoans int) float64 {
	if openLoans < 0 {
		openLoans = 0
	}
	if closedLoans < 0 {
		closedLoans = 0
	}

	riskFactor := warRiskWeight*warRisk + reputationWeight*(1.0-reputation)
	rate := (riskScale*riskFactor + baselineRate) * 100

	rate += float64(openLoans) * openLoanPenalty
	rate -= float64(closedLoans) * closedLoanDiscount

	rate = round2(rate)
	if rate < minimumRate {
		rate = minimumRate
	}
	return rate
}

// round2 rounds half away from zero to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
