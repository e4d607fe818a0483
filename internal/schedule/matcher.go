package schedule

import (
	"context"
	"sync"
	"time"

	"belltower/internal/clock"
	logx "belltower/pkg/logx"
)

// Bells is the slice of the playback controller the matcher needs.
type Bells interface {
	Enabled() bool
	NoteCount(slot int) int
	PlayMelody(slot int) bool
}

// Saver persists the trigger lists. Save failures are logged and
// otherwise ignored; in-memory state stays authoritative for the
// running session.
type Saver interface {
	SaveSchedules(ctx context.Context, weekly []Weekly, special []Special) error
}

// Matcher owns the weekly and special trigger lists and decides, once
// per calendar minute, whether a melody should start. Evaluate is meant
// to run on a cadence much shorter than a minute (30s in the default
// deployment); the minute guard makes the extra passes free.
//
// Matching is first-match-wins in stored order; weekly triggers take
// priority over special events; at most one melody fires per pass.
type Matcher struct {
	mu       sync.Mutex
	log      logx.Logger
	bells    Bells
	provider clock.Provider
	saver    Saver

	// trustFallback lets the matcher act on Fallback-confidence time.
	// Off by default: matching real schedules against a dummy date
	// rings bells on the wrong day.
	trustFallback bool

	lastMinute int

	weekly  []Weekly
	special []Special
	nextID  int

	stats Stats
}

func NewMatcher(bells Bells, provider clock.Provider, saver Saver, log logx.Logger) *Matcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Matcher{
		log:        log,
		bells:      bells,
		provider:   provider,
		saver:      saver,
		lastMinute: -1,
		nextID:     1,
	}
}

// SetTrustFallback controls whether Fallback-confidence readings may
// trigger melodies.
func (m *Matcher) SetTrustFallback(trust bool) {
	m.mu.Lock()
	m.trustFallback = trust
	m.mu.Unlock()
}

// Evaluate runs one matching pass against the provider's current time.
// It never blocks and has no side effects beyond the first pass within
// any calendar minute.
func (m *Matcher) Evaluate(ctx context.Context) {
	r := m.provider.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Confidence == clock.Fallback && !m.trustFallback {
		// Do not consume the minute: if real time comes back within the
		// same minute, that pass still gets its chance.
		m.log.Debug("skipping evaluation on fallback time")
		return
	}

	now := r.Time
	if now.Minute() == m.lastMinute {
		return
	}
	m.lastMinute = now.Minute()

	hour, minute := now.Hour(), now.Minute()
	dow := now.Weekday()

	for i := range m.weekly {
		e := &m.weekly[i]
		if !e.Active || e.Day != dow || e.Hour != hour || e.Minute != minute {
			continue
		}
		// A skipped entry must not block a later entry matching the
		// same minute.
		if !m.fireLocked(e.Name, e.Melody, now) {
			continue
		}
		return
	}

	for i := range m.special {
		e := &m.special[i]
		if !e.Active {
			continue
		}
		if e.Day != now.Day() || e.Month != int(now.Month()) {
			continue
		}
		if !e.Recurring && e.Year != now.Year() {
			continue
		}
		if e.Hour != hour || e.Minute != minute {
			continue
		}
		if !m.fireLocked(e.Name, e.Melody, now) {
			continue
		}
		if !e.Recurring {
			// One-shot consumed: it never fires again, even if the date
			// comes around.
			e.Active = false
			m.log.Info("one-shot event consumed", logx.String("event", e.Name))
			m.saveLocked(ctx)
		}
		return
	}
}

// fireLocked validates and triggers one melody. Returning false means
// "skip this entry, keep scanning".
func (m *Matcher) fireLocked(name string, melody int, now time.Time) bool {
	if m.bells.NoteCount(melody) == 0 {
		m.log.Warn("trigger skipped: melody empty",
			logx.String("trigger", name), logx.Int("melody", melody))
		return false
	}
	if !m.bells.Enabled() {
		m.log.Warn("trigger skipped: bells disabled", logx.String("trigger", name))
		return false
	}
	if !m.bells.PlayMelody(melody) {
		m.log.Warn("trigger rejected by controller",
			logx.String("trigger", name), logx.Int("melody", melody))
		return false
	}

	m.stats.Triggered++
	m.stats.LastTrigger = now
	m.stats.LastName = name
	m.stats.LastMelody = melody
	m.log.Info("schedule fired",
		logx.String("trigger", name),
		logx.Int("melody", melody),
		logx.Time("at", now),
	)
	return true
}

func (m *Matcher) saveLocked(ctx context.Context) {
	if m.saver == nil {
		return
	}
	w := make([]Weekly, len(m.weekly))
	copy(w, m.weekly)
	s := make([]Special, len(m.special))
	copy(s, m.special)
	if err := m.saver.SaveSchedules(ctx, w, s); err != nil {
		m.log.Error("schedule save failed", logx.Err(err))
	}
}

// Stats returns a copy of the matcher statistics.
func (m *Matcher) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ---- trigger list management ----
//
// Every mutation persists through the Saver before returning.

// Restore loads persisted lists. IDs are preserved; the next assigned
// ID continues after the highest seen.
func (m *Matcher) Restore(weekly []Weekly, special []Special) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(weekly) > MaxWeekly {
		weekly = weekly[:MaxWeekly]
	}
	if len(special) > MaxSpecial {
		special = special[:MaxSpecial]
	}
	m.weekly = append([]Weekly(nil), weekly...)
	m.special = append([]Special(nil), special...)
	for _, e := range m.weekly {
		if e.ID >= m.nextID {
			m.nextID = e.ID + 1
		}
	}
	for _, e := range m.special {
		if e.ID >= m.nextID {
			m.nextID = e.ID + 1
		}
	}
}

// WeeklyList returns a copy of the weekly triggers in stored order.
func (m *Matcher) WeeklyList() []Weekly {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Weekly(nil), m.weekly...)
}

// SpecialList returns a copy of the special events in stored order.
func (m *Matcher) SpecialList() []Special {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Special(nil), m.special...)
}

func (m *Matcher) AddWeekly(ctx context.Context, w Weekly) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.weekly) >= MaxWeekly || !validDaily(w.Hour, w.Minute) || w.Day < time.Sunday || w.Day > time.Saturday {
		return 0, false
	}
	w.ID = m.nextID
	m.nextID++
	m.weekly = append(m.weekly, w)
	m.saveLocked(ctx)
	return w.ID, true
}

func (m *Matcher) UpdateWeekly(ctx context.Context, w Weekly) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validDaily(w.Hour, w.Minute) {
		return false
	}
	for i := range m.weekly {
		if m.weekly[i].ID == w.ID {
			m.weekly[i] = w
			m.saveLocked(ctx)
			return true
		}
	}
	return false
}

func (m *Matcher) DeleteWeekly(ctx context.Context, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.weekly {
		if m.weekly[i].ID == id {
			m.weekly = append(m.weekly[:i], m.weekly[i+1:]...)
			m.saveLocked(ctx)
			return true
		}
	}
	return false
}

func (m *Matcher) AddSpecial(ctx context.Context, s Special) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.special) >= MaxSpecial || !validDaily(s.Hour, s.Minute) || !validDate(s.Year, s.Month, s.Day) {
		return 0, false
	}
	s.ID = m.nextID
	m.nextID++
	m.special = append(m.special, s)
	m.saveLocked(ctx)
	return s.ID, true
}

func (m *Matcher) UpdateSpecial(ctx context.Context, s Special) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validDaily(s.Hour, s.Minute) || !validDate(s.Year, s.Month, s.Day) {
		return false
	}
	for i := range m.special {
		if m.special[i].ID == s.ID {
			m.special[i] = s
			m.saveLocked(ctx)
			return true
		}
	}
	return false
}

func (m *Matcher) DeleteSpecial(ctx context.Context, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.special {
		if m.special[i].ID == id {
			m.special = append(m.special[:i], m.special[i+1:]...)
			m.saveLocked(ctx)
			return true
		}
	}
	return false
}

func validDaily(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}

func validDate(year, month, day int) bool {
	// Year 0 is allowed: recurring events match every year.
	if year != 0 && (year < 2000 || year > 2200) {
		return false
	}
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}
