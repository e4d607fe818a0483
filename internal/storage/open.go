package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"belltower/internal/schedule"
	logx "belltower/pkg/logx"
)

// Store is the persistence API used by core. Load failures at boot and
// save failures at runtime are reported but never fatal: in-memory
// state stays authoritative for the running session.
type Store interface {
	LoadMelodies(ctx context.Context) ([]MelodyRecord, error)
	SaveMelodies(ctx context.Context, melodies []MelodyRecord) error

	LoadSchedules(ctx context.Context) ([]schedule.Weekly, []schedule.Special, error)
	SaveSchedules(ctx context.Context, weekly []schedule.Weekly, special []schedule.Special) error

	AppendRing(ctx context.Context, e RingEntry) error
	PruneRings(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
