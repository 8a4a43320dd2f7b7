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

	logx "dreamplan/pkg/logx"
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
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
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

func (s *sqliteStore) LoadOccurrences(ctx context.Context, dreamID string) ([]OccurrenceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dream_id, action_id, occurrence_no, due_on, planned_due_on, defer_count, difficulty, est_minutes, run_id
		 FROM occurrences WHERE dream_id = ? ORDER BY action_id, occurrence_no`, dreamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OccurrenceRow{}
	for rows.Next() {
		var (
			r          OccurrenceRow
			difficulty sql.NullString
			runID      sql.NullString
		)
		if err := rows.Scan(&r.DreamID, &r.ActionID, &r.OccurrenceNo, &r.DueOn, &r.PlannedDueOn,
			&r.DeferCount, &difficulty, &r.EstMinutes, &runID); err != nil {
			return nil, err
		}
		r.Difficulty = difficulty.String
		r.RunID = runID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveRun(ctx context.Context, run Run) (int, error) {
	run = run.prepare()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO occurrences(dream_id, action_id, occurrence_no, due_on, planned_due_on, defer_count, difficulty, est_minutes, run_id, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(dream_id, action_id, occurrence_no) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	created := run.At.UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, r := range run.Occurrences {
		res, err := stmt.ExecContext(ctx, r.DreamID, r.ActionID, r.OccurrenceNo, r.DueOn, r.PlannedDueOn,
			r.DeferCount, nullStr(r.Difficulty), r.EstMinutes, nullStr(r.RunID), created)
		if err != nil {
			return 0, fmt.Errorf("insert occurrence %s#%d: %w", r.ActionID, r.OccurrenceNo, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	run.Inserted = inserted
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, dream_id, user_id, at, success, auto_compacted, too_tight, recommended_end, placed, inserted, warnings, errors, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.DreamID, nullStr(run.UserID), created, boolInt(run.Success), boolInt(run.AutoCompacted),
		boolInt(run.TooTight), nullStr(run.RecommendedEnd), run.Placed, run.Inserted,
		jsonList(run.Warnings), jsonList(run.Errors), run.TookMS,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *sqliteStore) Runs(ctx context.Context, dreamID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dream_id, user_id, at, success, auto_compacted, too_tight, recommended_end, placed, inserted, warnings, errors, took_ms
		 FROM runs WHERE dream_id = ? ORDER BY seq DESC LIMIT ?`, dreamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			r                            Run
			userID, recEnd, warns, errs  sql.NullString
			at                           string
			success, compacted, tooTight int
		)
		if err := rows.Scan(&r.ID, &r.DreamID, &userID, &at, &success, &compacted, &tooTight, &recEnd,
			&r.Placed, &r.Inserted, &warns, &errs, &r.TookMS); err != nil {
			return nil, err
		}
		r.UserID = userID.String
		r.RecommendedEnd = recEnd.String
		r.Success = success != 0
		r.AutoCompacted = compacted != 0
		r.TooTight = tooTight != 0
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.At = t
		}
		r.Warnings = parseList(warns)
		r.Errors = parseList(errs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonList(v []string) any {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func parseList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}
