package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// FirstPRSequence is the sequence given to the first case of a year.
const FirstPRSequence = 1001

// PRNumberPrefix returns "PR-<year>-".
func PRNumberPrefix(year int) string {
	return fmt.Sprintf("PR-%04d-", year)
}

// FormatPRNumber renders a PR number.
func FormatPRNumber(year, seq int) string {
	return PRNumberPrefix(year) + strconv.Itoa(seq)
}

// ParsePRSequence extracts the sequence of prNumber if it belongs to year.
func ParsePRSequence(prNumber string, year int) (int, bool) {
	rest, ok := strings.CutPrefix(prNumber, PRNumberPrefix(year))
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// NextPRSequence returns the sequence following maxSeq, never below
// FirstPRSequence.
func NextPRSequence(maxSeq int) int {
	if maxSeq < FirstPRSequence-1 {
		maxSeq = FirstPRSequence - 1
	}
	return maxSeq + 1
}
