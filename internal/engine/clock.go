package engine

import "time"

// Clock supplies the wall time for events that arrive without a timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the process wall clock in UTC.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
