package schedule

import (
	"context"
	"testing"
	"time"

	"belltower/internal/clock"
	logx "belltower/pkg/logx"
)

type fakeBells struct {
	enabled bool
	counts  map[int]int
	played  []int
}

func (f *fakeBells) Enabled() bool          { return f.enabled }
func (f *fakeBells) NoteCount(slot int) int { return f.counts[slot] }
func (f *fakeBells) PlayMelody(slot int) bool {
	f.played = append(f.played, slot)
	return true
}

type fakeProvider struct{ r clock.Reading }

func (p *fakeProvider) Now() clock.Reading { return p.r }

type countingSaver struct{ calls int }

func (s *countingSaver) SaveSchedules(context.Context, []Weekly, []Special) error {
	s.calls++
	return nil
}

func sunday(hour, minute, second int) time.Time {
	// 2026-03-01 is a Sunday.
	return time.Date(2026, 3, 1, hour, minute, second, 0, time.UTC)
}

func newTestMatcher(t *testing.T) (*Matcher, *fakeBells, *fakeProvider, *countingSaver) {
	t.Helper()
	bells := &fakeBells{enabled: true, counts: map[int]int{0: 30, 1: 100}}
	prov := &fakeProvider{r: clock.Reading{Time: sunday(8, 0, 0), Confidence: clock.Live}}
	saver := &countingSaver{}
	return NewMatcher(bells, prov, saver, logx.Nop()), bells, prov, saver
}

func TestEvaluateFiresWeeklyOncePerMinute(t *testing.T) {
	m, bells, prov, _ := newTestMatcher(t)
	m.AddWeekly(context.Background(), Weekly{
		Name: "sunday mass", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 1, Active: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 1 || bells.played[0] != 1 {
		t.Fatalf("expected melody 1 to fire once, got %v", bells.played)
	}

	// 100 more passes within the same minute: no further effect.
	for i := 0; i < 100; i++ {
		prov.r.Time = sunday(8, 0, (i%59)+1)
		m.Evaluate(context.Background())
	}
	if len(bells.played) != 1 {
		t.Fatalf("dedup failed: %d plays", len(bells.played))
	}

	st := m.Stats()
	if st.Triggered != 1 || st.LastName != "sunday mass" {
		t.Fatalf("stats = %+v", st)
	}
}

func TestEvaluateSkipsEmptyMelodyAndContinues(t *testing.T) {
	m, bells, _, _ := newTestMatcher(t)
	bells.counts[5] = 0 // empty slot
	m.AddWeekly(context.Background(), Weekly{
		Name: "broken", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 5, Active: true,
	})
	m.AddWeekly(context.Background(), Weekly{
		Name: "backup", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 0, Active: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 1 || bells.played[0] != 0 {
		t.Fatalf("later matching entry did not fire: %v", bells.played)
	}
}

func TestEvaluateSkipsInactiveAndMismatched(t *testing.T) {
	m, bells, _, _ := newTestMatcher(t)
	m.AddWeekly(context.Background(), Weekly{
		Name: "disabled entry", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 0, Active: false,
	})
	m.AddWeekly(context.Background(), Weekly{
		Name: "wrong day", Day: time.Monday, Hour: 8, Minute: 0, Melody: 0, Active: true,
	})
	m.AddWeekly(context.Background(), Weekly{
		Name: "wrong minute", Day: time.Sunday, Hour: 8, Minute: 30, Melody: 0, Active: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 0 {
		t.Fatalf("unexpected plays: %v", bells.played)
	}
}

func TestEvaluateDisabledBellsFiresNothing(t *testing.T) {
	m, bells, _, _ := newTestMatcher(t)
	bells.enabled = false
	m.AddWeekly(context.Background(), Weekly{
		Name: "mass", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 1, Active: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 0 {
		t.Fatalf("disabled bells still fired: %v", bells.played)
	}
}

func TestWeeklyTakesPriorityOverSpecial(t *testing.T) {
	m, bells, _, _ := newTestMatcher(t)
	m.AddSpecial(context.Background(), Special{
		Name: "patron feast", Type: EventFeast, Year: 2026, Month: 3, Day: 1,
		Hour: 8, Minute: 0, Melody: 0, Active: true,
	})
	m.AddWeekly(context.Background(), Weekly{
		Name: "mass", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 1, Active: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 1 || bells.played[0] != 1 {
		t.Fatalf("weekly did not win: %v", bells.played)
	}
	// The special event was not consumed.
	if sp := m.SpecialList(); !sp[0].Active {
		t.Fatalf("special event consumed despite weekly priority")
	}
}

func TestNonRecurringSpecialConsumedOnce(t *testing.T) {
	m, bells, _, saver := newTestMatcher(t)
	m.AddSpecial(context.Background(), Special{
		Name: "wedding", Type: EventWedding, Year: 2026, Month: 3, Day: 1,
		Hour: 8, Minute: 0, Melody: 0, Active: true,
	})
	saved := saver.calls

	m.Evaluate(context.Background())
	if len(bells.played) != 1 {
		t.Fatalf("special did not fire: %v", bells.played)
	}
	if sp := m.SpecialList(); sp[0].Active {
		t.Fatalf("one-shot event still active after firing")
	}
	if saver.calls != saved+1 {
		t.Fatalf("consumption was not persisted (saves %d -> %d)", saved, saver.calls)
	}

	// Second pass at the identical date/time (minute guard reset to
	// simulate a fresh evaluation window): must not fire again.
	m.lastMinute = -1
	m.Evaluate(context.Background())
	if len(bells.played) != 1 {
		t.Fatalf("consumed event fired again: %v", bells.played)
	}
}

func TestRecurringSpecialMatchesAnyYear(t *testing.T) {
	m, bells, _, _ := newTestMatcher(t)
	m.AddSpecial(context.Background(), Special{
		Name: "angelus anniversary", Type: EventAngelus, Year: 2020, Month: 3, Day: 1,
		Hour: 8, Minute: 0, Melody: 0, Active: true, Recurring: true,
	})

	m.Evaluate(context.Background())
	if len(bells.played) != 1 {
		t.Fatalf("recurring event did not fire in a later year: %v", bells.played)
	}
	if sp := m.SpecialList(); !sp[0].Active {
		t.Fatalf("recurring event was consumed")
	}

	// Non-recurring with a mismatched year never matches.
	m2, bells2, _, _ := newTestMatcher(t)
	m2.AddSpecial(context.Background(), Special{
		Name: "old one-shot", Year: 2020, Month: 3, Day: 1,
		Hour: 8, Minute: 0, Melody: 0, Active: true,
	})
	m2.Evaluate(context.Background())
	if len(bells2.played) != 0 {
		t.Fatalf("year-bound event fired in the wrong year: %v", bells2.played)
	}
}

func TestFallbackTimeRefusedByDefault(t *testing.T) {
	m, bells, prov, _ := newTestMatcher(t)
	m.AddWeekly(context.Background(), Weekly{
		Name: "mass", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 1, Active: true,
	})

	prov.r.Confidence = clock.Fallback
	m.Evaluate(context.Background())
	if len(bells.played) != 0 {
		t.Fatalf("fired on fallback time: %v", bells.played)
	}

	// The refused pass must not consume the minute.
	prov.r.Confidence = clock.Live
	m.Evaluate(context.Background())
	if len(bells.played) != 1 {
		t.Fatalf("minute was consumed by the refused pass: %v", bells.played)
	}
}

func TestFallbackTimeHonoredWhenTrusted(t *testing.T) {
	m, bells, prov, _ := newTestMatcher(t)
	m.SetTrustFallback(true)
	m.AddWeekly(context.Background(), Weekly{
		Name: "mass", Day: time.Sunday, Hour: 8, Minute: 0, Melody: 1, Active: true,
	})

	prov.r.Confidence = clock.Fallback
	m.Evaluate(context.Background())
	if len(bells.played) != 1 {
		t.Fatalf("trusted fallback time did not fire: %v", bells.played)
	}
}

func TestTriggerListLimitsAndCRUD(t *testing.T) {
	m, _, _, saver := newTestMatcher(t)
	ctx := context.Background()

	for i := 0; i < MaxWeekly; i++ {
		if _, ok := m.AddWeekly(ctx, Weekly{Name: "w", Day: time.Monday, Hour: 6, Minute: i % 60, Melody: 0, Active: true}); !ok {
			t.Fatalf("add weekly %d failed", i)
		}
	}
	if _, ok := m.AddWeekly(ctx, Weekly{Day: time.Monday, Hour: 6}); ok {
		t.Fatalf("weekly capacity not enforced")
	}
	if _, ok := m.AddWeekly(ctx, Weekly{Day: time.Monday, Hour: 24}); ok {
		t.Fatalf("invalid hour accepted")
	}

	list := m.WeeklyList()
	if len(list) != MaxWeekly {
		t.Fatalf("weekly list len = %d", len(list))
	}

	w := list[0]
	w.Name = "renamed"
	if !m.UpdateWeekly(ctx, w) {
		t.Fatalf("update weekly failed")
	}
	if got := m.WeeklyList()[0].Name; got != "renamed" {
		t.Fatalf("update not applied: %q", got)
	}
	if m.UpdateWeekly(ctx, Weekly{ID: 9999, Hour: 6}) {
		t.Fatalf("update of unknown id succeeded")
	}
	if !m.DeleteWeekly(ctx, w.ID) {
		t.Fatalf("delete weekly failed")
	}
	if m.DeleteWeekly(ctx, w.ID) {
		t.Fatalf("double delete succeeded")
	}

	if saver.calls == 0 {
		t.Fatalf("mutations were not persisted")
	}
}

func TestRestorePreservesOrderAndIDs(t *testing.T) {
	m, _, _, _ := newTestMatcher(t)
	m.Restore(
		[]Weekly{
			{ID: 7, Name: "first", Day: time.Sunday, Hour: 8, Active: true},
			{ID: 3, Name: "second", Day: time.Sunday, Hour: 9, Active: true},
		},
		[]Special{{ID: 12, Name: "feast", Month: 6, Day: 24, Active: true}},
	)

	list := m.WeeklyList()
	if len(list) != 2 || list[0].Name != "first" {
		t.Fatalf("restore reordered entries: %+v", list)
	}

	id, ok := m.AddWeekly(context.Background(), Weekly{Name: "new", Day: time.Monday, Hour: 6, Active: true})
	if !ok || id <= 12 {
		t.Fatalf("next id did not continue after restore: %d", id)
	}
}
