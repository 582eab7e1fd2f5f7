package service

import "time"

// Backoff returns the delay before retry number attempt (zero-based):
// base doubled per prior attempt, capped at max. The shift is guarded
// so large attempt counts saturate at max instead of overflowing.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d <<= 1
		if d >= max || d <= 0 {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
