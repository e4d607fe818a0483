package clock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "belltower/pkg/logx"
)

type stubSource struct {
	name string
	t    time.Time
	ok   bool
}

func (s *stubSource) Name() string            { return s.name }
func (s *stubSource) Read() (time.Time, bool) { return s.t, s.ok }

func TestChainAlwaysReturnsAReading(t *testing.T) {
	c := NewChain(logx.Nop())
	r := c.Now()
	if r.Confidence != Fallback {
		t.Fatalf("empty chain confidence = %v, want Fallback", r.Confidence)
	}
	if !r.Time.Equal(DefaultFixedTime()) {
		t.Fatalf("fallback time = %v", r.Time)
	}
	if r.Time.Weekday() != time.Sunday {
		t.Fatalf("fixed dummy must be a Sunday, got %v", r.Time.Weekday())
	}
}

func TestChainPriorityAndDegradation(t *testing.T) {
	live := &stubSource{name: "system", t: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), ok: true}
	rec := &stubSource{name: "checkpoint", t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ok: true}

	c := NewChain(logx.Nop())
	c.Prepend(rec, Recovered)
	c.Prepend(live, Live)

	r := c.Now()
	if r.Confidence != Live || !r.Time.Equal(live.t) {
		t.Fatalf("expected live reading, got %+v", r)
	}

	live.ok = false
	r = c.Now()
	if r.Confidence != Recovered || !r.Time.Equal(rec.t) {
		t.Fatalf("expected recovered reading, got %+v", r)
	}

	rec.ok = false
	r = c.Now()
	if r.Confidence != Fallback {
		t.Fatalf("expected fallback reading, got %+v", r)
	}

	live.ok = true
	r = c.Now()
	if r.Confidence != Live {
		t.Fatalf("chain did not recover, got %+v", r)
	}
}

func TestAppendStaysAheadOfFixedSource(t *testing.T) {
	src := &stubSource{name: "extra", t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ok: true}
	c := NewChain(logx.Nop())
	c.Append(src, Recovered)

	r := c.Now()
	if r.Confidence != Recovered {
		t.Fatalf("appended source shadowed by fixed fallback: %+v", r)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastgood")
	s := NewCheckpointSource(path)

	if _, ok := s.Read(); ok {
		t.Fatalf("read of missing checkpoint should fail")
	}

	want := time.Date(2026, 5, 17, 18, 45, 0, 0, time.UTC)
	if err := s.Checkpoint(want); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	got, ok := s.Read()
	if !ok || !got.Equal(want) {
		t.Fatalf("read = %v ok=%v, want %v", got, ok, want)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind after checkpoint")
	}
}

func TestCheckpointRejectsImplausibleTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastgood")
	s := NewCheckpointSource(path)
	if err := s.Checkpoint(time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if _, ok := s.Read(); ok {
		t.Fatalf("epoch-era checkpoint accepted")
	}
}
