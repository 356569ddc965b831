// Package clock abstracts reading the current time so that every request
// handler reads "now" exactly once from an injected source. Production code
// uses Real(); tests use Fixed().
package clock

import "time"

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by the system time.
func Real() Clock { return realClock{} }

// FixedClock always reports the same instant until Set is called.
type FixedClock struct {
	t time.Time
}

// Fixed returns a Clock frozen at t.
func Fixed(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (f *FixedClock) Now() time.Time { return f.t }

// Set moves the fixed clock. It is not safe for concurrent use with Now.
func (f *FixedClock) Set(t time.Time) { f.t = t }
