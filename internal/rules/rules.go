// Package rules holds the pure workflow predicates and selectors. Nothing
// here performs I/O.
package rules

import "time"

const (
	// MFAValidityDays is how long a completed MFA challenge stays valid.
	MFAValidityDays = 3

	// MinQuotesForReview is the number of quotes a case needs before it may
	// enter READY_FOR_REVIEW without an approved exception.
	MinQuotesForReview = 1
)

// IsMFARequired reports whether a user whose last MFA completed at lastMFAAt
// must complete MFA again. Elapsed time is compared in whole days.
func IsMFARequired(lastMFAAt *time.Time, now time.Time) bool {
	return IsMFARequiredWithin(lastMFAAt, now, MFAValidityDays)
}

// IsMFARequiredWithin is IsMFARequired with a configurable validity window.
func IsMFARequiredWithin(lastMFAAt *time.Time, now time.Time, validityDays int) bool {
	if lastMFAAt == nil {
		return true
	}
	elapsedDays := int(now.Sub(*lastMFAAt) / (24 * time.Hour))
	return elapsedDays >= validityDays
}

// ReviewGate is the input to the ready-for-review gate.
type ReviewGate struct {
	QuotesCount  int
	HasException bool
}

// CanMoveToReadyForReview reports whether a case may enter READY_FOR_REVIEW.
func CanMoveToReadyForReview(g ReviewGate, minQuotes int) bool {
	return g.QuotesCount >= minQuotes || g.HasException
}

// Workload is the number of open cases held by one buyer.
type Workload struct {
	BuyerID string
	Count   int
}

// SelectBuyerRoundRobin returns the buyer with the fewest open cases. Ties
// go to the buyer appearing first in workloads.
func SelectBuyerRoundRobin(workloads []Workload) (string, bool) {
	if len(workloads) == 0 {
		return "", false
	}
	best := workloads[0]
	for _, w := range workloads[1:] {
		if w.Count < best.Count {
			best = w
		}
	}
	return best.BuyerID, true
}
