package domain

import "time"

// maxBackoffShift caps the exponent so the delay cannot overflow.
const maxBackoffShift = 20

// RetryDelay returns the exponential backoff delay for the given attempt
// count: base * 2^(attempts-1). Attempts below one are treated as one.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base * time.Duration(1<<uint(shift))
}
