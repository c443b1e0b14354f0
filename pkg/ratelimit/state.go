// Package ratelimit implements the process-wide rate-limit governor shared by
// every catalog request. It enters a cooldown when the backend signals
// overload (HTTP 429 or a "too many requests" envelope) and enforces a
// minimum spacing between dispatched requests.
package ratelimit

import (
	"time"
)

// Defaults for governor decisions.
const (
	// DefaultCooldown is how long dispatch is deferred after the last
	// rate-limit signal.
	DefaultCooldown = 2000 * time.Millisecond

	// DefaultMinSpacing is the minimum gap between two dispatched requests.
	DefaultMinSpacing = 300 * time.Millisecond
)

// Mode is the governor state.
type Mode string

const (
	// ModeNormal allows dispatch subject to spacing.
	ModeNormal Mode = "normal"

	// ModeCooldown defers dispatch until the cooldown window has elapsed.
	ModeCooldown Mode = "cooldown"
)

// GovernorState represents the current rate-limit state.
type GovernorState struct {
	// LastErrorAt is when the last rate-limit signal was observed.
	// Nil until the first signal.
	LastErrorAt *time.Time `json:"last_error_at"`

	// InCooldown is true between a rate-limit signal and the lazy
	// transition back to normal.
	InCooldown bool `json:"in_cooldown"`

	// LastRequestAt is the reserved start time of the most recent dispatch.
	LastRequestAt time.Time `json:"last_request_at"`
}

// Mode returns the mode the state represents.
func (s GovernorState) Mode() Mode {
	if s.InCooldown {
		return ModeCooldown
	}
	return ModeNormal
}

// CooldownEndsAt returns when the cooldown window closes. Returns the zero
// time if no rate-limit signal has been seen.
func (s GovernorState) CooldownEndsAt(cooldown time.Duration) time.Time {
	if s.LastErrorAt == nil {
		return time.Time{}
	}
	return s.LastErrorAt.Add(cooldown)
}

// cooldownRemaining returns the time left in the cooldown window at now.
func (s GovernorState) cooldownRemaining(cooldown time.Duration, now time.Time) time.Duration {
	if !s.InCooldown || s.LastErrorAt == nil {
		return 0
	}
	remaining := s.CooldownEndsAt(cooldown).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
