//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"belltower/internal/schedule"
	logx "belltower/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadMelodies(ctx context.Context) ([]MelodyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, name, notes FROM melodies ORDER BY slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MelodyRecord
	for rows.Next() {
		var rec MelodyRecord
		var notes string
		if err := rows.Scan(&rec.Slot, &rec.Name, &notes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(notes), &rec.Notes); err != nil {
			s.log.Warn("skipping melody with corrupt notes", logx.Int("slot", rec.Slot), logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveMelodies(ctx context.Context, melodies []MelodyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM melodies`); err != nil {
		return err
	}
	for _, m := range melodies {
		notes, err := json.Marshal(m.Notes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO melodies(slot, name, notes) VALUES(?,?,?)`,
			m.Slot, m.Name, string(notes),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) ([]schedule.Weekly, []schedule.Special, error) {
	wrows, err := s.db.QueryContext(ctx,
		`SELECT id, name, day_of_week, hour, minute, melody, active FROM weekly ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer wrows.Close()

	var weekly []schedule.Weekly
	for wrows.Next() {
		var w schedule.Weekly
		var day int
		if err := wrows.Scan(&w.ID, &w.Name, &day, &w.Hour, &w.Minute, &w.Melody, &w.Active); err != nil {
			return nil, nil, err
		}
		w.Day = time.Weekday(day)
		weekly = append(weekly, w)
	}
	if err := wrows.Err(); err != nil {
		return nil, nil, err
	}

	srows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, year, month, day, hour, minute, melody, active, recurring
		 FROM special ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer srows.Close()

	var special []schedule.Special
	for srows.Next() {
		var e schedule.Special
		var typ int
		if err := srows.Scan(&e.ID, &e.Name, &typ, &e.Year, &e.Month, &e.Day,
			&e.Hour, &e.Minute, &e.Melody, &e.Active, &e.Recurring); err != nil {
			return nil, nil, err
		}
		e.Type = schedule.EventType(typ)
		special = append(special, e)
	}
	return weekly, special, srows.Err()
}

func (s *sqliteStore) SaveSchedules(ctx context.Context, weekly []schedule.Weekly, special []schedule.Special) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM weekly`); err != nil {
		return err
	}
	for _, w := range weekly {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO weekly(id, name, day_of_week, hour, minute, melody, active)
			 VALUES(?,?,?,?,?,?,?)`,
			w.ID, w.Name, int(w.Day), w.Hour, w.Minute, w.Melody, w.Active,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM special`); err != nil {
		return err
	}
	for _, e := range special {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO special(id, name, type, year, month, day, hour, minute, melody, active, recurring)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.Name, int(e.Type), e.Year, e.Month, e.Day, e.Hour, e.Minute, e.Melody, e.Active, e.Recurring,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendRing(ctx context.Context, e RingEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rings(at, bell, pulse_ms, melody) VALUES(?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Bell, e.PulseMS, e.Melody,
	)
	return err
}

func (s *sqliteStore) PruneRings(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rings WHERE at < ?`,
		olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
