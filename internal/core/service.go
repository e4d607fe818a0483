package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"belltower/internal/bell"
	"belltower/internal/clock"
	"belltower/internal/schedule"
	"belltower/internal/storage"
	logx "belltower/pkg/logx"
)

var (
	ErrDisabled         = errors.New("ringing system is disabled")
	ErrInvalidBell      = errors.New("bell number must be 1 or 2")
	ErrInvalidPulse     = errors.New("pulse duration out of range")
	ErrInvalidMelody    = errors.New("no such melody")
	ErrCatalogFull      = errors.New("melody catalog is full")
	ErrScheduleDisabled = errors.New("schedule is not enabled")
)

// Service is the command facade shared by every control surface (HTTP,
// Telegram). It owns persistence side effects so transports stay thin.
type Service struct {
	log   logx.Logger
	ctl   *bell.Controller
	match *schedule.Matcher // nil when the schedule module is disabled
	store storage.Store     // nil when persistence is disabled
	clk   clock.Provider

	// rings decouples the audit write from the controller tick path.
	rings chan storage.RingEntry
}

func NewService(ctl *bell.Controller, match *schedule.Matcher, store storage.Store, clk clock.Provider, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		ctl:   ctl,
		match: match,
		store: store,
		clk:   clk,
		rings: make(chan storage.RingEntry, 64),
	}
	ctl.OnRing(func(bellNumber int, pulse time.Duration, melody int) {
		// Called with the controller lock held; never block here.
		select {
		case s.rings <- storage.RingEntry{At: time.Now(), Bell: bellNumber, PulseMS: pulse.Milliseconds(), Melody: melody}:
		default:
		}
	})
	return s
}

// RunAuditWriter drains ring events into the audit trail. Returns when
// ctx is cancelled. Safe to run without a store (drains and drops).
func (s *Service) RunAuditWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.rings:
			if s.store == nil {
				continue
			}
			if err := s.store.AppendRing(ctx, e); err != nil && ctx.Err() == nil {
				s.log.Warn("ring audit append failed", logx.Err(err))
			}
		}
	}
}

// Status is a combined view for the control surfaces.
type Status struct {
	Bell     bell.Status     `json:"bell"`
	Melodies int             `json:"melodies"`
	Schedule *schedule.Stats `json:"schedule,omitempty"`
	Clock    ClockStatus     `json:"clock"`
}

type ClockStatus struct {
	Time       time.Time `json:"time"`
	Confidence string    `json:"confidence"`
}

func (s *Service) Status() Status {
	st := Status{
		Bell:     s.ctl.Status(),
		Melodies: s.ctl.Store().ActiveCount(),
	}
	if s.match != nil {
		stats := s.match.Stats()
		st.Schedule = &stats
	}
	if s.clk != nil {
		r := s.clk.Now()
		st.Clock = ClockStatus{Time: r.Time, Confidence: r.Confidence.String()}
	}
	return st
}

func (s *Service) Enable()     { s.ctl.SetEnabled(true) }
func (s *Service) Disable()    { s.ctl.SetEnabled(false) }
func (s *Service) Enabled() bool { return s.ctl.Enabled() }

func (s *Service) EmergencyStop() { s.ctl.EmergencyStop() }

func (s *Service) SetTestMode(on bool) { s.ctl.EnableTestMode(on) }

func (s *Service) Ring(bellNumber int, pulse time.Duration) error {
	if !bell.ValidBell(bellNumber) {
		return ErrInvalidBell
	}
	if pulse < bell.MinPulse || pulse > bell.MaxPulse {
		return ErrInvalidPulse
	}
	// Past validation, a refusal means the gate (disabled and not in
	// test mode) or a pulse already in flight.
	if !s.ctl.RingBell(bellNumber, pulse) {
		return ErrDisabled
	}
	return nil
}

func (s *Service) Play(slot int) error {
	// The enable gate lives in the controller so test mode can bypass
	// it; check the slot first to tell the two refusals apart.
	if s.ctl.NoteCount(slot) == 0 {
		return ErrInvalidMelody
	}
	if !s.ctl.PlayMelody(slot) {
		return ErrDisabled
	}
	return nil
}

func (s *Service) StopMelody() { s.ctl.StopMelody() }

// Melodies returns the occupied catalog slots.
func (s *Service) Melodies() []bell.SlotView {
	all := s.ctl.Store().Snapshot()
	out := make([]bell.SlotView, 0, len(all))
	for _, v := range all {
		if v.Active {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) Melody(slot int) (bell.SlotView, bool) {
	for _, v := range s.ctl.Store().Snapshot() {
		if v.Slot == slot && v.Active {
			return v, true
		}
	}
	return bell.SlotView{}, false
}

func (s *Service) AddMelody(ctx context.Context, name string, notes []bell.Note) (int, error) {
	slot, ok := s.ctl.AddMelody(name, notes)
	if !ok {
		return -1, ErrCatalogFull
	}
	s.persistMelodies(ctx)
	s.log.Info("melody added", logx.Int("slot", slot), logx.String("name", name), logx.Int("notes", len(notes)))
	return slot, nil
}

func (s *Service) UpdateMelody(ctx context.Context, slot int, name string, notes []bell.Note) error {
	if !s.ctl.UpdateMelody(slot, name, notes) {
		return ErrInvalidMelody
	}
	s.persistMelodies(ctx)
	s.log.Info("melody updated", logx.Int("slot", slot), logx.String("name", name))
	return nil
}

func (s *Service) DeleteMelody(ctx context.Context, slot int) error {
	if !s.ctl.DeleteMelody(slot) {
		return ErrInvalidMelody
	}
	s.persistMelodies(ctx)
	s.log.Info("melody deleted", logx.Int("slot", slot))
	return nil
}

func (s *Service) persistMelodies(ctx context.Context) {
	if s.store == nil {
		return
	}
	records := melodyRecords(s.ctl.Store().Snapshot())
	if err := s.store.SaveMelodies(ctx, records); err != nil && ctx.Err() == nil {
		s.log.Warn("melody save failed", logx.Err(err))
	}
}

func melodyRecords(views []bell.SlotView) []storage.MelodyRecord {
	out := make([]storage.MelodyRecord, 0, len(views))
	for _, v := range views {
		if !v.Active {
			continue
		}
		rec := storage.MelodyRecord{Slot: v.Slot, Name: v.Name, Notes: make([]storage.NoteRecord, 0, len(v.Notes))}
		for _, n := range v.Notes {
			rec.Notes = append(rec.Notes, storage.NoteRecord{
				Bell:       n.Bell,
				DurationMS: int(n.Pulse.Milliseconds()),
				DelayMS:    int(n.Delay.Milliseconds()),
			})
		}
		out = append(out, rec)
	}
	return out
}

// RestoreMelodies loads persisted slots into the catalog. Called once
// at boot, before the defaults are considered.
func RestoreMelodies(store *bell.Store, records []storage.MelodyRecord) {
	views := make([]bell.SlotView, 0, len(records))
	for _, rec := range records {
		v := bell.SlotView{Slot: rec.Slot, Name: rec.Name, Active: true}
		for _, n := range rec.Notes {
			v.Notes = append(v.Notes, bell.Note{
				Bell:  n.Bell,
				Pulse: time.Duration(n.DurationMS) * time.Millisecond,
				Delay: time.Duration(n.DelayMS) * time.Millisecond,
			})
		}
		views = append(views, v)
	}
	store.Restore(views)
}

// Schedule passthroughs. All of them fail cleanly when the schedule
// module is disabled.

func (s *Service) WeeklyList() ([]schedule.Weekly, error) {
	if s.match == nil {
		return nil, ErrScheduleDisabled
	}
	return s.match.WeeklyList(), nil
}

func (s *Service) SpecialList() ([]schedule.Special, error) {
	if s.match == nil {
		return nil, ErrScheduleDisabled
	}
	return s.match.SpecialList(), nil
}

func (s *Service) AddWeekly(ctx context.Context, w schedule.Weekly) (int, error) {
	if s.match == nil {
		return 0, ErrScheduleDisabled
	}
	id, ok := s.match.AddWeekly(ctx, w)
	if !ok {
		return 0, fmt.Errorf("weekly schedule rejected")
	}
	return id, nil
}

func (s *Service) UpdateWeekly(ctx context.Context, w schedule.Weekly) error {
	if s.match == nil {
		return ErrScheduleDisabled
	}
	if !s.match.UpdateWeekly(ctx, w) {
		return fmt.Errorf("weekly schedule rejected")
	}
	return nil
}

func (s *Service) DeleteWeekly(ctx context.Context, id int) error {
	if s.match == nil {
		return ErrScheduleDisabled
	}
	if !s.match.DeleteWeekly(ctx, id) {
		return fmt.Errorf("no weekly schedule with id %d", id)
	}
	return nil
}

func (s *Service) AddSpecial(ctx context.Context, sp schedule.Special) (int, error) {
	if s.match == nil {
		return 0, ErrScheduleDisabled
	}
	id, ok := s.match.AddSpecial(ctx, sp)
	if !ok {
		return 0, fmt.Errorf("special event rejected")
	}
	return id, nil
}

func (s *Service) UpdateSpecial(ctx context.Context, sp schedule.Special) error {
	if s.match == nil {
		return ErrScheduleDisabled
	}
	if !s.match.UpdateSpecial(ctx, sp) {
		return fmt.Errorf("special event rejected")
	}
	return nil
}

func (s *Service) DeleteSpecial(ctx context.Context, id int) error {
	if s.match == nil {
		return ErrScheduleDisabled
	}
	if !s.match.DeleteSpecial(ctx, id) {
		return fmt.Errorf("no special event with id %d", id)
	}
	return nil
}
