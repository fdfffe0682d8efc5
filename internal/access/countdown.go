package access

import (
	"fmt"
	"time"
)

// ExpiredMessage is the countdown text shown once a trial has lapsed.
const ExpiredMessage = "Trial has expired."

// FormatRemaining renders the time left until expiry as a ticking countdown
// string. It is a pure function: whatever timer primitive drives the UI
// simply re-invokes it with a fresh now — no business logic lives in the
// tick handler.
func FormatRemaining(expiry, now time.Time) string {
	remaining := expiry.Sub(now)
	if remaining < 0 {
		return ExpiredMessage
	}

	days := int(remaining / (24 * time.Hour))
	remaining -= time.Duration(days) * 24 * time.Hour
	hours := int(remaining / time.Hour)
	remaining -= time.Duration(hours) * time.Hour
	minutes := int(remaining / time.Minute)
	remaining -= time.Duration(minutes) * time.Minute
	seconds := int(remaining / time.Second)

	return fmt.Sprintf("%dd %dh %dm %ds remaining", days, hours, minutes, seconds)
}
