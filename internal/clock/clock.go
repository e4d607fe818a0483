// Package clock supplies the scheduler's local-time readings.
//
// A reading always succeeds: the chain degrades from the live system
// clock through a persisted checkpoint down to a fixed dummy value, and
// tags each reading with the confidence of its source so callers can
// refuse to act on low-confidence time.
package clock

import (
	"os"
	"strings"
	"sync"
	"time"

	logx "belltower/pkg/logx"
)

// Confidence ranks how trustworthy a reading is.
type Confidence int

const (
	// Live: the system clock, sanity-checked.
	Live Confidence = iota
	// Recovered: a stale but real time restored from a checkpoint.
	Recovered
	// Fallback: the fixed dummy value; only liveness, no correctness.
	Fallback
)

func (c Confidence) String() string {
	switch c {
	case Live:
		return "live"
	case Recovered:
		return "recovered"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Reading is a local-time value plus the confidence of its source.
type Reading struct {
	Time       time.Time
	Confidence Confidence
}

// Provider yields the current local time. Implementations never fail.
type Provider interface {
	Now() Reading
}

// Source is one link in the chain. Read reports ok=false when the
// source cannot produce a plausible time.
type Source interface {
	Name() string
	Read() (time.Time, bool)
}

// sanityYear rejects clocks that have obviously not been set (the
// epoch-ish values a cold board boots with).
const sanityYear = 2021

// ---- system source ----

type systemSource struct {
	loc *time.Location
}

// NewSystemSource reads the OS clock in the given IANA timezone
// (empty means time.Local).
func NewSystemSource(timezone string) (Source, error) {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	return &systemSource{loc: loc}, nil
}

func (s *systemSource) Name() string { return "system" }

func (s *systemSource) Read() (time.Time, bool) {
	now := time.Now().In(s.loc)
	if now.Year() < sanityYear {
		return time.Time{}, false
	}
	return now, true
}

// ---- checkpoint source ----

// CheckpointSource persists the last known-good time to a file and
// serves it back when the live clock is implausible. The restored value
// is stale by however long the process was down; callers see that as
// Recovered confidence.
type CheckpointSource struct {
	mu   sync.Mutex
	path string
}

func NewCheckpointSource(path string) *CheckpointSource {
	return &CheckpointSource{path: path}
}

func (s *CheckpointSource) Name() string { return "checkpoint" }

func (s *CheckpointSource) Read() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(b)))
	if err != nil || t.Year() < sanityYear {
		return time.Time{}, false
	}
	return t, true
}

// Checkpoint records t as the last known-good time. The write goes
// through a temp file and rename so a crash mid-write cannot leave a
// torn checkpoint behind.
func (s *CheckpointSource) Checkpoint(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ---- fixed source ----

type fixedSource struct{ t time.Time }

// NewFixedSource returns a source that always yields t.
func NewFixedSource(t time.Time) Source { return &fixedSource{t: t} }

// DefaultFixedTime is the terminal dummy value: a Sunday at noon, so a
// totally clockless system still behaves deterministically.
func DefaultFixedTime() time.Time {
	return time.Date(2025, time.September, 21, 12, 0, 0, 0, time.UTC)
}

func (s *fixedSource) Name() string            { return "fixed" }
func (s *fixedSource) Read() (time.Time, bool) { return s.t, true }

// ---- chain ----

type chainLink struct {
	src  Source
	conf Confidence
}

// Chain tries its sources in priority order and returns the first
// plausible reading. It always terminates in the fixed source, so Now
// never fails.
type Chain struct {
	mu    sync.Mutex
	log   logx.Logger
	links []chainLink
	last  string // last source name, for degradation logging
}

func NewChain(log logx.Logger) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Chain{log: log}
	c.Append(NewFixedSource(DefaultFixedTime()), Fallback)
	return c
}

// Prepend inserts a source ahead of everything currently in the chain.
func (c *Chain) Prepend(src Source, conf Confidence) {
	c.mu.Lock()
	c.links = append([]chainLink{{src: src, conf: conf}}, c.links...)
	c.mu.Unlock()
}

// Append adds a source behind everything except it stays ahead of the
// terminal fixed source.
func (c *Chain) Append(src Source, conf Confidence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.links); n > 0 && c.links[n-1].conf == Fallback && conf != Fallback {
		c.links = append(c.links[:n-1], chainLink{src: src, conf: conf}, c.links[n-1])
		return
	}
	c.links = append(c.links, chainLink{src: src, conf: conf})
}

func (c *Chain) Now() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.links {
		t, ok := l.src.Read()
		if !ok {
			continue
		}
		if name := l.src.Name(); name != c.last {
			if l.conf != Live {
				c.log.Warn("time source degraded",
					logx.String("source", name),
					logx.String("confidence", l.conf.String()))
			} else if c.last != "" {
				c.log.Info("time source recovered", logx.String("source", name))
			}
			c.last = name
		}
		return Reading{Time: t, Confidence: l.conf}
	}
	// Unreachable while the fixed source is present; kept for safety.
	return Reading{Time: DefaultFixedTime(), Confidence: Fallback}
}
