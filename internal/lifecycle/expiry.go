package lifecycle

import "time"

// TrialPeriod is the length of the free trial config.
const TrialPeriod = 5 * 24 * time.Hour

// State is where a subscription is in its life.
type State int

const (
	StateActive State = iota
	StateExpiringSoon
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EndOfDay moves t to 23:59:59 UTC of the same day.
func EndOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// ExpiryFor returns the expiry of a subscription created at created for the
// given number of months. Zero months is the free trial.
func ExpiryFor(created time.Time, months int) time.Time {
	if months <= 0 {
		return EndOfDay(created.Add(TrialPeriod))
	}
	return EndOfDay(created.UTC().AddDate(0, months, 0))
}

// Renewed extends expires by months. An already expired subscription restarts
// from now so the user never pays for time that has passed.
func Renewed(expires, now time.Time, months int) time.Time {
	if expires.Before(now) {
		return EndOfDay(now.UTC().AddDate(0, months, 0))
	}
	return EndOfDay(expires.UTC().AddDate(0, months, 0))
}

// StateAt classifies a subscription expiring at expires as seen at now.
func StateAt(expires, now time.Time, window time.Duration) State {
	switch {
	case !now.Before(expires):
		return StateExpired
	case now.Add(window).After(expires):
		return StateExpiringSoon
	default:
		return StateActive
	}
}

// DaysLeft is the number of whole days until expires, as shown to users.
func DaysLeft(expires, now time.Time) int {
	if !expires.After(now) {
		return 0
	}
	return int(expires.Sub(now) / (24 * time.Hour))
}
