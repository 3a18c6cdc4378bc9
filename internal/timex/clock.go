package timex

import "time"

// Clock is the wall-clock source. OTP windows and subscription validity are
// always evaluated against an injected Clock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// DateLayout is the on-wire format of users.otpvaliduntil.
const DateLayout = "2006-01-02"

// StillValid reports whether validUntil (DateLayout) is today or later in
// now's location. Empty or malformed values are never valid.
func StillValid(validUntil string, now time.Time) bool {
	if len(validUntil) <= 1 {
		return false
	}
	d, err := time.ParseInLocation(DateLayout, validUntil, now.Location())
	if err != nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return !d.Before(today)
}
