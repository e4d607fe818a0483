package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"belltower/internal/schedule"
	logx "belltower/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.melodies.json  (whole-catalog document, atomic rewrite)
//   - <prefix>.schedules.json (weekly + special lists, atomic rewrite)
//   - <prefix>.rings.jsonl    (append-only ring audit)
//
// Catalog documents are small (10 melodies, 74 triggers max), so a full
// rewrite per save is cheaper than being clever.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	melodiesPath  string
	schedulesPath string
	ringsPath     string

	ringsFile *os.File
}

type scheduleDoc struct {
	Weekly  []schedule.Weekly  `json:"weekly"`
	Special []schedule.Special `json:"special"`
}

type ringRecord struct {
	At      time.Time `json:"at"`
	Bell    int       `json:"bell"`
	PulseMS int64     `json:"pulse_ms"`
	Melody  int       `json:"melody"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	rf, err := os.OpenFile(prefix+".rings.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:           log,
		melodiesPath:  prefix + ".melodies.json",
		schedulesPath: prefix + ".schedules.json",
		ringsPath:     prefix + ".rings.jsonl",
		ringsFile:     rf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringsFile != nil {
		err := s.ringsFile.Close()
		s.ringsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadMelodies(ctx context.Context) ([]MelodyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MelodyRecord
	if err := readJSONDoc(s.melodiesPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveMelodies(ctx context.Context, melodies []MelodyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONDoc(s.melodiesPath, melodies)
}

func (s *fileStore) LoadSchedules(ctx context.Context) ([]schedule.Weekly, []schedule.Special, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc scheduleDoc
	if err := readJSONDoc(s.schedulesPath, &doc); err != nil {
		return nil, nil, err
	}
	return doc.Weekly, doc.Special, nil
}

func (s *fileStore) SaveSchedules(ctx context.Context, weekly []schedule.Weekly, special []schedule.Special) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONDoc(s.schedulesPath, scheduleDoc{Weekly: weekly, Special: special})
}

func (s *fileStore) AppendRing(ctx context.Context, e RingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringsFile == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(ringRecord{At: e.At, Bell: e.Bell, PulseMS: e.PulseMS, Melody: e.Melody})
	if err != nil {
		return err
	}
	_, err = s.ringsFile.Write(append(b, '\n'))
	return err
}

// PruneRings rewrites the audit file keeping only entries at or after
// olderThan. Returns the number of dropped entries.
func (s *fileStore) PruneRings(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringsFile == nil {
		return 0, ErrDisabled
	}

	in, err := os.Open(s.ringsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	tmp := s.ringsPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var dropped int64
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var r ringRecord
		if err := json.Unmarshal(line, &r); err != nil || r.At.Before(olderThan) {
			dropped++
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if scanErr != nil {
		return 0, scanErr
	}

	// Swap under the open append handle: close, rename, reopen.
	_ = s.ringsFile.Close()
	if err := os.Rename(tmp, s.ringsPath); err != nil {
		s.ringsFile, _ = os.OpenFile(s.ringsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		return 0, err
	}
	rf, err := os.OpenFile(s.ringsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return dropped, err
	}
	s.ringsFile = rf
	return dropped, nil
}

// readJSONDoc decodes path into v; a missing file leaves v untouched.
func readJSONDoc(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, v)
}

// writeJSONDoc writes atomically via temp file + rename.
func writeJSONDoc(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
