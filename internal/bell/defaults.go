package bell

import "time"

// Canonical melody slots. The two stock melodies always live in fixed
// slots so physical quick triggers and remote shortcuts can reference
// them without a lookup.
const (
	SlotFuneral  = 0
	SlotMassCall = 1
)

// LoadDefaults seeds the two stock melodies. Seeding is idempotent: an
// already-occupied slot 0 or 1 is never overwritten, so operator edits
// survive restarts.
func (s *Store) LoadDefaults() {
	// FUNERAL: 5 blocks of 3 strikes on bell 1 then 3 on bell 2,
	// slow cadence (300ms strike, 2.7s gap), 30 strikes total.
	if !s.IsActive(SlotFuneral) {
		notes := make([]Note, 0, 30)
		for block := 0; block < 5; block++ {
			for i := 0; i < 3; i++ {
				notes = append(notes, Note{Bell: 1, Pulse: 300 * time.Millisecond, Delay: 2700 * time.Millisecond})
			}
			for i := 0; i < 3; i++ {
				notes = append(notes, Note{Bell: 2, Pulse: 300 * time.Millisecond, Delay: 2700 * time.Millisecond})
			}
		}
		s.Update(SlotFuneral, "FUNERAL", notes)
	}

	// MASS CALL: dense alternating peal. Strike interval ends up as
	// max(pulse, delay) = 400ms, so 100 strikes run about 40s.
	if !s.IsActive(SlotMassCall) {
		notes := make([]Note, 100)
		for i := range notes {
			b := 1
			if i%2 == 1 {
				b = 2
			}
			notes[i] = Note{Bell: b, Pulse: 300 * time.Millisecond, Delay: 400 * time.Millisecond}
		}
		s.Update(SlotMassCall, "MASS CALL", notes)
	}
}
