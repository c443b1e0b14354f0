package ratelimit

import (
	"testing"
	"time"
)

func TestGovernorState_Mode(t *testing.T) {
	tests := []struct {
		name  string
		state GovernorState
		want  Mode
	}{
		{"zero state", GovernorState{}, ModeNormal},
		{"cooling", GovernorState{InCooldown: true}, ModeCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Mode(); got != tt.want {
				t.Errorf("Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGovernorState_CooldownEndsAt(t *testing.T) {
	if got := (GovernorState{}).CooldownEndsAt(time.Second); !got.IsZero() {
		t.Errorf("CooldownEndsAt() = %v, want zero time without a signal", got)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	state := GovernorState{LastErrorAt: &at, InCooldown: true}
	if got, want := state.CooldownEndsAt(2*time.Second), at.Add(2*time.Second); !got.Equal(want) {
		t.Errorf("CooldownEndsAt() = %v, want %v", got, want)
	}
}

func TestGovernorState_CooldownRemaining(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		state GovernorState
		now   time.Time
		want  time.Duration
	}{
		{
			name:  "no signal",
			state: GovernorState{},
			now:   at,
			want:  0,
		},
		{
			name:  "just signalled",
			state: GovernorState{LastErrorAt: &at, InCooldown: true},
			now:   at,
			want:  2 * time.Second,
		},
		{
			name:  "half way",
			state: GovernorState{LastErrorAt: &at, InCooldown: true},
			now:   at.Add(time.Second),
			want:  time.Second,
		},
		{
			name:  "elapsed",
			state: GovernorState{LastErrorAt: &at, InCooldown: true},
			now:   at.Add(3 * time.Second),
			want:  0,
		},
		{
			name:  "already normal",
			state: GovernorState{LastErrorAt: &at},
			now:   at,
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.cooldownRemaining(2*time.Second, tt.now); got != tt.want {
				t.Errorf("cooldownRemaining() = %v, want %v", got, tt.want)
			}
		})
	}
}
