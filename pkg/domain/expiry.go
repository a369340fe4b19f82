package domain

import "time"

// Expiry is the absolute point in time after which a record is logically gone.
// The zero value means "no expiry": the record lives until deleted or until the
// backing store's own retention policy evicts it.
type Expiry struct {
	at  time.Time
	set bool
}

// NoExpiry returns an Expiry that never lapses.
func NoExpiry() Expiry {
	return Expiry{}
}

// ExpiresAt returns an Expiry lapsing at t.
func ExpiresAt(t time.Time) Expiry {
	return Expiry{at: t, set: true}
}

// ExpiresIn returns an Expiry lapsing d after now.
func ExpiresIn(now time.Time, d time.Duration) Expiry {
	return ExpiresAt(now.Add(d))
}

// IsSet reports whether the expiry holds a deadline.
func (e Expiry) IsSet() bool {
	return e.set
}

// Time returns the deadline and whether one is set.
func (e Expiry) Time() (time.Time, bool) {
	return e.at, e.set
}

// Expired reports whether the deadline has been reached at now.
// A record is valid strictly before its deadline.
func (e Expiry) Expired(now time.Time) bool {
	return e.set && !e.at.After(now)
}

// TTL returns the time left until the deadline. The boolean is false when no
// deadline is set. The duration is never negative.
func (e Expiry) TTL(now time.Time) (time.Duration, bool) {
	if !e.set {
		return 0, false
	}
	d := e.at.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Equal reports whether both expiries describe the same deadline.
func (e Expiry) Equal(other Expiry) bool {
	if e.set != other.set {
		return false
	}
	return !e.set || e.at.Equal(other.at)
}

// String formats the expiry for logs.
func (e Expiry) String() string {
	if !e.set {
		return "never"
	}
	return e.at.UTC().Format(time.RFC3339Nano)
}
