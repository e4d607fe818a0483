package bell

import "time"

// Pulse and inter-note delay bounds. Out-of-range durations on direct ring
// requests are rejected; stored melody notes are clamped into range instead.
const (
	MinPulse = 100 * time.Millisecond
	MaxPulse = 2 * time.Second
	MinDelay = 50 * time.Millisecond
	MaxDelay = 5 * time.Second
)

const (
	// MaxSlots is the fixed melody catalog capacity.
	MaxSlots = 10
	// MaxNotes is the per-melody sequence capacity.
	MaxNotes = 120

	maxNameLen = 31
)

// Note is a single bell strike instruction: which bell, how long the
// actuator output stays asserted, and the minimum gap before the next
// note may start.
type Note struct {
	Bell  int           `json:"bell"`
	Pulse time.Duration `json:"pulse"`
	Delay time.Duration `json:"delay"`
}

// ValidBell reports whether n addresses one of the two physical bells.
func ValidBell(n int) bool { return n == 1 || n == 2 }

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// normalized returns the note with its durations clamped into the
// configured bounds. The bell number is left as-is; the controller
// treats notes with an invalid bell as silent rests.
func (n Note) normalized() Note {
	n.Pulse = clampDuration(n.Pulse, MinPulse, MaxPulse)
	n.Delay = clampDuration(n.Delay, MinDelay, MaxDelay)
	return n
}
