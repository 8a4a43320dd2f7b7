package storage

import (
	"context"
	"fmt"
	"strings"

	logx "dreamplan/pkg/logx"
)

// Store is the persistence API used by the planner.
type Store interface {
	// LoadOccurrences returns every stored occurrence of a dream ordered by
	// action and occurrence number.
	LoadOccurrences(ctx context.Context, dreamID string) ([]OccurrenceRow, error)
	// SaveRun stores the run's occurrences, skipping ones that already exist,
	// and appends the run to the audit trail. It returns how many occurrences
	// were inserted; Run.Inserted is filled in before the audit row is written.
	SaveRun(ctx context.Context, run Run) (int, error)
	// Runs returns up to limit audit records of a dream, newest first. limit
	// <= 0 means all.
	Runs(ctx context.Context, dreamID string, limit int) ([]Run, error)
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
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
