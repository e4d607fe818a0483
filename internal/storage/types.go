package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON documents + jsonl audit)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the tower runs
// purely in-memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// NoteRecord is the wire form of one melody note. Durations are
// milliseconds; the field names are the on-disk contract shared with
// older installations.
type NoteRecord struct {
	Bell       int `json:"bellNumber"`
	DurationMS int `json:"duration"`
	DelayMS    int `json:"delay"`
}

// MelodyRecord is the wire form of one catalog slot.
type MelodyRecord struct {
	Slot  int          `json:"id"`
	Name  string       `json:"name"`
	Notes []NoteRecord `json:"notes"`
}

// RingEntry records one actuator pulse for the audit trail.
// Melody is -1 for direct rings outside melody playback.
type RingEntry struct {
	At      time.Time
	Bell    int
	PulseMS int64
	Melody  int
}
