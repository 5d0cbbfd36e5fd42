package core

import "time"

// Clock provides the current time. Decay math is a pure function of elapsed
// time, so tests inject a fixed clock instead of sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
