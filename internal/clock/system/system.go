// Package system provides the wall clock used to stamp parse results.
package system

import "time"

// Clock implements payment.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC so parsed_at is zone-stable.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
