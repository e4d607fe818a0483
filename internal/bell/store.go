package bell

import (
	"sync"
	"time"
)

// Melody is an ordered, named note sequence occupying one catalog slot.
type Melody struct {
	Name   string `json:"name"`
	Notes  []Note `json:"notes"`
	Active bool   `json:"active"`
}

// Store is the fixed-capacity melody catalog. Slots are addressed by
// index 0..MaxSlots-1; an inactive slot is free. Queries on invalid or
// inactive slots return neutral values rather than errors.
type Store struct {
	mu    sync.Mutex
	slots [MaxSlots]Melody
}

func NewStore() *Store { return &Store{} }

func validSlot(i int) bool { return i >= 0 && i < MaxSlots }

func truncName(name string) string {
	if name == "" {
		return "Unnamed"
	}
	if len(name) > maxNameLen {
		return name[:maxNameLen]
	}
	return name
}

func sanitize(notes []Note) []Note {
	if len(notes) > MaxNotes {
		notes = notes[:MaxNotes]
	}
	out := make([]Note, len(notes))
	for i, n := range notes {
		out[i] = n.normalized()
	}
	return out
}

// Add places a melody in the first free slot and returns its index.
// The note sequence is truncated to capacity. It returns (-1, false)
// without mutating anything when the catalog is full.
func (s *Store) Add(name string, notes []Note) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if s.slots[i].Active {
			continue
		}
		s.slots[i] = Melody{Name: truncName(name), Notes: sanitize(notes), Active: true}
		return i, true
	}
	return -1, false
}

// Update overwrites the slot unconditionally and marks it active.
// It fails only when the index is out of range.
func (s *Store) Update(index int, name string, notes []Note) bool {
	if !validSlot(index) {
		return false
	}
	s.mu.Lock()
	s.slots[index] = Melody{Name: truncName(name), Notes: sanitize(notes), Active: true}
	s.mu.Unlock()
	return true
}

// Delete frees the slot. Deleting an invalid or already-free slot is a no-op.
func (s *Store) Delete(index int) bool {
	if !validSlot(index) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.slots[index].Active {
		return false
	}
	s.slots[index] = Melody{}
	return true
}

// IsActive reports whether the slot holds a melody.
func (s *Store) IsActive(index int) bool {
	if !validSlot(index) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[index].Active
}

// Name returns the melody name, or "" for invalid/inactive slots.
func (s *Store) Name(index int) string {
	if !validSlot(index) {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.slots[index].Active {
		return ""
	}
	return s.slots[index].Name
}

// NoteCount returns the number of notes, or 0 for invalid/inactive slots.
func (s *Store) NoteCount(index int) int {
	if !validSlot(index) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.slots[index].Active {
		return 0
	}
	return len(s.slots[index].Notes)
}

// NoteAt returns the i-th note of the slot.
func (s *Store) NoteAt(index, i int) (Note, bool) {
	if !validSlot(index) || i < 0 {
		return Note{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &s.slots[index]
	if !m.Active || i >= len(m.Notes) {
		return Note{}, false
	}
	return m.Notes[i], true
}

// Notes returns a copy of the slot's note sequence (nil when empty).
func (s *Store) Notes(index int) []Note {
	if !validSlot(index) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &s.slots[index]
	if !m.Active || len(m.Notes) == 0 {
		return nil
	}
	out := make([]Note, len(m.Notes))
	copy(out, m.Notes)
	return out
}

// TotalDuration sums the pulse durations of all notes in the slot.
func (s *Store) TotalDuration(index int) time.Duration {
	if !validSlot(index) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &s.slots[index]
	if !m.Active {
		return 0
	}
	var total time.Duration
	for _, n := range m.Notes {
		total += n.Pulse
	}
	return total
}

// ActiveCount returns the number of occupied slots.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.slots {
		if s.slots[i].Active {
			count++
		}
	}
	return count
}

// SlotView is a read-only snapshot of one catalog slot.
type SlotView struct {
	Slot   int    `json:"slot"`
	Name   string `json:"name"`
	Notes  []Note `json:"notes,omitempty"`
	Active bool   `json:"active"`
}

// Snapshot copies the whole catalog, including free slots.
func (s *Store) Snapshot() []SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlotView, MaxSlots)
	for i := range s.slots {
		v := SlotView{Slot: i, Name: s.slots[i].Name, Active: s.slots[i].Active}
		if n := len(s.slots[i].Notes); n > 0 {
			v.Notes = make([]Note, n)
			copy(v.Notes, s.slots[i].Notes)
		}
		out[i] = v
	}
	return out
}

// Restore loads a persisted catalog snapshot. Slots not present in the
// snapshot are left untouched.
func (s *Store) Restore(views []SlotView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range views {
		if !validSlot(v.Slot) || !v.Active {
			continue
		}
		s.slots[v.Slot] = Melody{Name: truncName(v.Name), Notes: sanitize(v.Notes), Active: true}
	}
}
