package livescan

import (
	"time"
)

// cooldownRegistry tracks the last alert time per face label so repeated
// sightings of the same person inside the cooldown window do not fan out
// into duplicate alerts. It is only touched under the engine's cycle lock.
type cooldownRegistry struct {
	period time.Duration
	last   map[string]time.Time
}

func newCooldownRegistry(period time.Duration) *cooldownRegistry {
	return &cooldownRegistry{
		period: period,
		last:   make(map[string]time.Time),
	}
}

// Suppressed reports whether the label alerted within the cooldown period.
func (r *cooldownRegistry) Suppressed(label string, now time.Time) bool {
	at, ok := r.last[label]
	if !ok {
		return false
	}
	return now.Sub(at) < r.period
}

// Mark records an alert for the label and prunes expired entries so the
// registry does not grow with every label ever seen.
func (r *cooldownRegistry) Mark(label string, now time.Time) {
	r.last[label] = now
	for l, at := range r.last {
		if now.Sub(at) >= r.period {
			delete(r.last, l)
		}
	}
}

// Reset clears all cooldown state.
func (r *cooldownRegistry) Reset() {
	r.last = make(map[string]time.Time)
}
