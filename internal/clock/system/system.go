// Package system provides the wall-clock implementation of keywords.Clock.
package system

import "time"

// Clock reads the system wall clock.
type Clock struct{}

// New returns a system Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}
