package bell

import (
	"sync"
	"time"

	logx "belltower/pkg/logx"
)

// Status is the externally visible controller state.
type Status struct {
	Playing      bool      `json:"isPlaying"`
	Enabled      bool      `json:"enabled"`
	TestMode     bool      `json:"testMode"`
	ActiveMelody int       `json:"activeMelody"`
	TotalRings   uint64    `json:"totalRings"`
	LastRing     time.Time `json:"lastRingTime"`
}

// RingFunc observes every actuator assertion (melody notes and direct
// rings alike). It is called with the controller lock held and must not
// call back into the controller.
type RingFunc func(bell int, pulse time.Duration, melody int)

// Controller owns the playback state machine and is the only writer to
// the actuator. All timing is comparison of a caller-supplied "now"
// against stored start times; nothing here blocks or sleeps.
//
// Tick is expected on a sub-second cadence. Every actuation request,
// melody notes and direct RingBell calls alike, arms the same pulse
// deadline, so the Tick timeout path is the single place outputs are
// released.
type Controller struct {
	mu    sync.Mutex
	log   logx.Logger
	store *Store
	act   Actuator
	now   func() time.Time

	enabled  bool
	testMode bool

	// Playback state. Valid while playing; melody keeps the last
	// started slot after playback ends (-1 before the first start).
	playing       bool
	melody        int
	cursor        int
	lastNoteStart time.Time

	// freshStart marks a sequence begun by PlayMelody whose first note
	// has not fired yet. Only that first note skips the delay gate; a
	// cursor rewind (UpdateMelody mid-playback) does not set it, so the
	// restarted sequence still honors the spacing from the last strike.
	freshStart bool

	// Pulse state. Lives independently of playback so direct rings
	// share the shutoff path.
	pulseActive bool
	pulseStart  time.Time
	pulseDur    time.Duration

	totalRings uint64
	lastRing   time.Time

	onRing RingFunc
}

func NewController(store *Store, act Actuator, log logx.Logger) *Controller {
	if act == nil {
		act = Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		log:    log,
		store:  store,
		act:    act,
		now:    time.Now,
		melody: -1,
	}
}

// OnRing installs the ring observer. Call before the tick loop starts.
func (c *Controller) OnRing(fn RingFunc) {
	c.mu.Lock()
	c.onRing = fn
	c.mu.Unlock()
}

// Store exposes the melody catalog for read-only queries.
func (c *Controller) Store() *Store { return c.store }

// NoteCount reports the note count of a catalog slot (0 when invalid
// or inactive). Convenience for trigger validation.
func (c *Controller) NoteCount(slot int) int { return c.store.NoteCount(slot) }

// PlayMelody validates and starts playback of the given slot. A melody
// already playing is stopped (outputs forced off) before the new one
// starts. Returns false, leaving all state untouched, when the slot is
// invalid, empty, or bells are disabled outside test mode.
func (c *Controller) PlayMelody(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !validSlot(index) {
		c.log.Warn("play rejected: slot out of range", logx.Int("slot", index))
		return false
	}
	if !c.store.IsActive(index) || c.store.NoteCount(index) == 0 {
		c.log.Warn("play rejected: empty slot", logx.Int("slot", index))
		return false
	}
	if !c.enabled && !c.testMode {
		c.log.Warn("play rejected: bells disabled", logx.Int("slot", index))
		return false
	}

	if c.playing {
		c.log.Debug("interrupting current melody", logx.Int("slot", c.melody))
		c.stopLocked()
	}

	c.melody = index
	c.cursor = 0
	c.playing = true
	c.freshStart = true
	c.lastNoteStart = c.now()

	c.log.Info("melody started",
		logx.Int("slot", index),
		logx.String("name", c.store.Name(index)),
		logx.Int("notes", c.store.NoteCount(index)),
		logx.Bool("test_mode", c.testMode),
	)
	return true
}

// Tick drains the pulse and note timers against now. It never blocks;
// the control loop invokes it continuously.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Pulse timeout: release both outputs regardless of which bell is
	// mid-pulse, so a bookkeeping slip can never leave a relay stuck on.
	if c.pulseActive && now.Sub(c.pulseStart) >= c.pulseDur {
		c.releaseLocked()
	}

	if !c.playing {
		return
	}

	count := c.store.NoteCount(c.melody)
	if c.cursor >= count {
		// Sequence exhausted (or the melody vanished under us). The stop
		// path forces outputs off as an idempotent safety reset.
		c.log.Info("melody completed",
			logx.Int("slot", c.melody),
			logx.String("name", c.store.Name(c.melody)),
		)
		c.stopLocked()
		return
	}

	note, ok := c.store.NoteAt(c.melody, c.cursor)
	if !ok {
		c.stopLocked()
		return
	}

	// A note may start only when no pulse is in flight and its delay has
	// elapsed since the previous note started. The first note of a
	// sequence fires immediately. Net strike interval: max(pulse, delay).
	if c.pulseActive {
		return
	}
	if !c.freshStart && now.Sub(c.lastNoteStart) < note.Delay {
		return
	}

	c.pulseStart = now
	c.pulseDur = note.Pulse
	c.pulseActive = true
	if ValidBell(note.Bell) {
		c.assertLocked(note.Bell, note.Pulse, now)
	} else {
		// Timing still runs, the relay stays quiet.
		c.log.Warn("skipping note with invalid bell",
			logx.Int("slot", c.melody), logx.Int("note", c.cursor), logx.Int("bell", note.Bell))
	}
	c.lastNoteStart = now
	c.freshStart = false
	c.cursor++
}

// StopMelody ends playback and forces both outputs off. Test mode, if
// set, is cleared as a side effect: test playback is meant to be
// transient.
func (c *Controller) StopMelody() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.log.Info("melody stopped", logx.Int("slot", c.melody))
	c.stopLocked()
}

// EmergencyStop unconditionally releases both outputs and kills any
// playback. Safe to call at any time, from any state, repeatedly. This
// is the global safety override (disable, thermal trip, panic button).
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Warn("emergency stop")
	c.playing = false
	c.cursor = 0
	c.releaseLocked()
}

// RingBell asserts one bell for the given duration. The shutoff rides
// the shared pulse deadline, so the tick loop releases the output even
// outside melody playback. Rejected (false) for bad bell numbers,
// out-of-range durations, disabled bells outside test mode, or while
// another pulse is in flight (a ring must not rewrite a melody note's
// release deadline).
func (c *Controller) RingBell(bellNumber int, duration time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled && !c.testMode {
		c.log.Warn("ring rejected: bells disabled", logx.Int("bell", bellNumber))
		return false
	}
	if !ValidBell(bellNumber) {
		c.log.Warn("ring rejected: invalid bell", logx.Int("bell", bellNumber))
		return false
	}
	if duration < MinPulse || duration > MaxPulse {
		c.log.Warn("ring rejected: duration out of range",
			logx.Int("bell", bellNumber), logx.Duration("duration", duration))
		return false
	}
	if c.pulseActive {
		c.log.Warn("ring rejected: pulse in flight", logx.Int("bell", bellNumber))
		return false
	}

	now := c.now()
	c.pulseStart = now
	c.pulseDur = duration
	c.pulseActive = true
	c.assertLocked(bellNumber, duration, now)
	return true
}

// SetEnabled toggles the global gate. Disabling always rips through an
// emergency stop.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	c.log.Info("bells enabled flag changed", logx.Bool("enabled", enabled))
	if !enabled {
		c.playing = false
		c.cursor = 0
		c.releaseLocked()
	}
}

// EnableTestMode lets PlayMelody/RingBell bypass the enabled gate.
// Playback state is not touched.
func (c *Controller) EnableTestMode(enabled bool) {
	c.mu.Lock()
	c.testMode = enabled
	c.mu.Unlock()
	c.log.Info("test mode changed", logx.Bool("test_mode", enabled))
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Playing:      c.playing,
		Enabled:      c.enabled,
		TestMode:     c.testMode,
		ActiveMelody: c.melody,
		TotalRings:   c.totalRings,
		LastRing:     c.lastRing,
	}
}

// ---- melody catalog commands ----
//
// Mutations route through the controller so playback state stays
// consistent with the catalog.

// AddMelody stores a new melody in the first free slot.
func (c *Controller) AddMelody(name string, notes []Note) (int, bool) {
	return c.store.Add(name, notes)
}

// UpdateMelody overwrites a slot. If that slot is currently playing, the
// cursor rewinds to the first note and the timing reference resets to
// now. The new sequence restarts in place without a stop; an in-flight
// pulse finishes via the normal timeout.
func (c *Controller) UpdateMelody(index int, name string, notes []Note) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.store.Update(index, name, notes) {
		return false
	}
	if c.playing && c.melody == index {
		c.cursor = 0
		c.lastNoteStart = c.now()
		c.log.Info("melody updated mid-playback; restarting", logx.Int("slot", index))
	}
	return true
}

// DeleteMelody frees a slot. A playing melody that loses its slot winds
// down on the next tick through the completion path.
func (c *Controller) DeleteMelody(index int) bool {
	return c.store.Delete(index)
}

// ---- internal ----

// assertLocked turns one bell on and records the ring.
func (c *Controller) assertLocked(bellNumber int, pulse time.Duration, now time.Time) {
	if err := c.act.Set(bellNumber, true); err != nil {
		c.log.Error("actuator assert failed", logx.Int("bell", bellNumber), logx.Err(err))
	}
	c.totalRings++
	c.lastRing = now
	c.log.Debug("bell asserted", logx.Int("bell", bellNumber), logx.Duration("pulse", pulse))
	if c.onRing != nil {
		melody := -1
		if c.playing {
			melody = c.melody
		}
		c.onRing(bellNumber, pulse, melody)
	}
}

// releaseLocked drops both outputs and clears the pulse flag.
func (c *Controller) releaseLocked() {
	if err := c.act.Set(1, false); err != nil {
		c.log.Error("actuator release failed", logx.Int("bell", 1), logx.Err(err))
	}
	if err := c.act.Set(2, false); err != nil {
		c.log.Error("actuator release failed", logx.Int("bell", 2), logx.Err(err))
	}
	c.pulseActive = false
}

func (c *Controller) stopLocked() {
	c.playing = false
	c.cursor = 0
	c.freshStart = false
	c.releaseLocked()
	if c.testMode {
		c.testMode = false
		c.log.Info("test mode cleared after playback")
	}
}
