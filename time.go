package auth

import "time"

// IsWithinThresholdPeriod reports whether t is inside the window
// ending now and starting threshold ago. A malformed threshold is
// treated as an always-open window so callers fail closed on
// throttling decisions.
func IsWithinThresholdPeriod(t time.Time, threshold string) bool {
	d, err := time.ParseDuration(threshold)
	if err != nil {
		return true
	}
	return time.Since(t) <= d
}

// IsOutsideThresholdPeriod is the complement of
// IsWithinThresholdPeriod.
func IsOutsideThresholdPeriod(t time.Time, threshold string) bool {
	return !IsWithinThresholdPeriod(t, threshold)
}
