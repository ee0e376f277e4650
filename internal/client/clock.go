package client

import (
	"math"
	"time"
)

// ExpiringSoonThreshold marks the low-remaining window used for urgency styling.
const ExpiringSoonThreshold = 10 * time.Second

// Remaining is expiresAt-now clamped at zero. ok is false when there is no
// countdown.
func Remaining(expiresAt *time.Time, now time.Time) (d time.Duration, ok bool) {
	if expiresAt == nil {
		return 0, false
	}
	d = expiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// RemainingSeconds rounds the remaining time up to whole seconds, so a
// countdown shows 1 until it actually reaches zero.
func RemainingSeconds(expiresAt *time.Time, now time.Time) *int {
	d, ok := Remaining(expiresAt, now)
	if !ok {
		return nil
	}
	secs := int(math.Ceil(d.Seconds()))
	return &secs
}

// ExpiringSoon reports a running countdown under ExpiringSoonThreshold.
func ExpiringSoon(expiresAt *time.Time, now time.Time) bool {
	d, ok := Remaining(expiresAt, now)
	return ok && d < ExpiringSoonThreshold
}

// ViewState is the presentation state of one countdown.
type ViewState struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	ExpiringSoon     bool `json:"is_expiring_soon"`
}

func viewStateOf(expiresAt *time.Time, now time.Time) (ViewState, bool) {
	secs := RemainingSeconds(expiresAt, now)
	if secs == nil {
		return ViewState{}, false
	}
	return ViewState{RemainingSeconds: *secs, ExpiringSoon: ExpiringSoon(expiresAt, now)}, true
}
