package bell

import (
	"testing"
	"time"
)

func note(bell int, pulse, delay time.Duration) Note {
	return Note{Bell: bell, Pulse: pulse, Delay: delay}
}

func TestStoreAddFindsFirstFreeSlot(t *testing.T) {
	s := NewStore()
	notes := []Note{note(1, 300*time.Millisecond, 400*time.Millisecond)}

	for i := 0; i < MaxSlots; i++ {
		slot, ok := s.Add("m", notes)
		if !ok || slot != i {
			t.Fatalf("add %d: got slot=%d ok=%v", i, slot, ok)
		}
	}
	if _, ok := s.Add("overflow", notes); ok {
		t.Fatalf("expected add to fail on full catalog")
	}

	if !s.Delete(4) {
		t.Fatalf("delete slot 4 failed")
	}
	slot, ok := s.Add("refill", notes)
	if !ok || slot != 4 {
		t.Fatalf("expected freed slot 4, got slot=%d ok=%v", slot, ok)
	}
}

func TestStoreTruncatesAndClamps(t *testing.T) {
	s := NewStore()
	long := make([]Note, MaxNotes+30)
	for i := range long {
		long[i] = note(1, 10*time.Hour, time.Nanosecond)
	}
	slot, ok := s.Add("long", long)
	if !ok {
		t.Fatalf("add failed")
	}
	if got := s.NoteCount(slot); got != MaxNotes {
		t.Fatalf("expected truncation to %d notes, got %d", MaxNotes, got)
	}
	n, ok := s.NoteAt(slot, 0)
	if !ok {
		t.Fatalf("NoteAt failed")
	}
	if n.Pulse != MaxPulse {
		t.Fatalf("pulse not clamped: %v", n.Pulse)
	}
	if n.Delay != MinDelay {
		t.Fatalf("delay not clamped: %v", n.Delay)
	}
}

func TestStoreQueriesNeutralOnInvalid(t *testing.T) {
	s := NewStore()
	for _, idx := range []int{-1, 0, MaxSlots, 42} {
		if s.Name(idx) != "" {
			t.Fatalf("Name(%d) not neutral", idx)
		}
		if s.NoteCount(idx) != 0 {
			t.Fatalf("NoteCount(%d) not neutral", idx)
		}
		if s.Notes(idx) != nil {
			t.Fatalf("Notes(%d) not neutral", idx)
		}
		if s.TotalDuration(idx) != 0 {
			t.Fatalf("TotalDuration(%d) not neutral", idx)
		}
	}
	if s.Update(MaxSlots, "x", nil) {
		t.Fatalf("Update out of range should fail")
	}
	if s.Delete(3) {
		t.Fatalf("Delete of inactive slot should fail")
	}
}

func TestStoreTotalDuration(t *testing.T) {
	s := NewStore()
	slot, _ := s.Add("m", []Note{
		note(1, 300*time.Millisecond, 400*time.Millisecond),
		note(2, 500*time.Millisecond, 400*time.Millisecond),
	})
	if got := s.TotalDuration(slot); got != 800*time.Millisecond {
		t.Fatalf("TotalDuration = %v, want 800ms", got)
	}
}

func TestLoadDefaultsSeedsCanonicalMelodies(t *testing.T) {
	s := NewStore()
	s.LoadDefaults()

	if got := s.Name(SlotFuneral); got != "FUNERAL" {
		t.Fatalf("slot 0 name = %q", got)
	}
	if got := s.NoteCount(SlotFuneral); got != 30 {
		t.Fatalf("funeral notes = %d, want 30", got)
	}
	// 3x bell1 then 3x bell2 per block.
	for i := 0; i < 6; i++ {
		n, _ := s.NoteAt(SlotFuneral, i)
		want := 1
		if i >= 3 {
			want = 2
		}
		if n.Bell != want {
			t.Fatalf("funeral note %d bell = %d, want %d", i, n.Bell, want)
		}
	}

	if got := s.Name(SlotMassCall); got != "MASS CALL" {
		t.Fatalf("slot 1 name = %q", got)
	}
	if got := s.NoteCount(SlotMassCall); got != 100 {
		t.Fatalf("mass call notes = %d, want 100", got)
	}
	n0, _ := s.NoteAt(SlotMassCall, 0)
	n1, _ := s.NoteAt(SlotMassCall, 1)
	if n0.Bell != 1 || n1.Bell != 2 {
		t.Fatalf("mass call does not alternate: %d, %d", n0.Bell, n1.Bell)
	}
}

func TestLoadDefaultsIdempotent(t *testing.T) {
	s := NewStore()
	s.LoadDefaults()
	s.Update(SlotFuneral, "CUSTOM", []Note{note(2, 200*time.Millisecond, 100*time.Millisecond)})

	s.LoadDefaults()
	if got := s.Name(SlotFuneral); got != "CUSTOM" {
		t.Fatalf("LoadDefaults overwrote an occupied slot: %q", got)
	}
	if got := s.NoteCount(SlotFuneral); got != 1 {
		t.Fatalf("LoadDefaults overwrote notes: %d", got)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.LoadDefaults()
	snap := s.Snapshot()
	if len(snap) != MaxSlots {
		t.Fatalf("snapshot len = %d", len(snap))
	}

	s2 := NewStore()
	s2.Restore(snap)
	if s2.Name(SlotFuneral) != "FUNERAL" || s2.NoteCount(SlotMassCall) != 100 {
		t.Fatalf("restore lost data: %q / %d", s2.Name(SlotFuneral), s2.NoteCount(SlotMassCall))
	}
	if s2.ActiveCount() != 2 {
		t.Fatalf("restore activated wrong slots: %d", s2.ActiveCount())
	}
}
