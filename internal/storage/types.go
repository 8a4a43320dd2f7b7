package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OccurrenceRow is one persisted occurrence. Dates are "YYYY-MM-DD".
type OccurrenceRow struct {
	DreamID      string `json:"dream_id"`
	ActionID     string `json:"action_id"`
	OccurrenceNo int    `json:"occurrence_no"`
	DueOn        string `json:"due_on"`
	PlannedDueOn string `json:"planned_due_on"`
	DeferCount   int    `json:"defer_count"`
	Difficulty   string `json:"difficulty,omitempty"`
	EstMinutes   int    `json:"est_minutes,omitempty"`
	RunID        string `json:"run_id,omitempty"`
}

func (r OccurrenceRow) key() occKey {
	return occKey{action: r.ActionID, no: r.OccurrenceNo}
}

type occKey struct {
	action string
	no     int
}

// Run is the audit record of one planning run. Occurrences are the rows the
// run produced; they are stored separately and are not returned by Runs.
type Run struct {
	ID             string    `json:"id"`
	DreamID        string    `json:"dream_id"`
	UserID         string    `json:"user_id,omitempty"`
	At             time.Time `json:"at"`
	Success        bool      `json:"success"`
	AutoCompacted  bool      `json:"auto_compacted"`
	TooTight       bool      `json:"too_tight"`
	RecommendedEnd string    `json:"recommended_end,omitempty"`
	Placed         int       `json:"placed"`
	Inserted       int       `json:"inserted"`
	Warnings       []string  `json:"warnings,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
	TookMS         int64     `json:"took_ms"`

	Occurrences []OccurrenceRow `json:"-"`
}

// prepare fills row defaults from the run.
func (run Run) prepare() Run {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.At.IsZero() {
		run.At = time.Now().UTC()
	}
	rows := make([]OccurrenceRow, len(run.Occurrences))
	for i, r := range run.Occurrences {
		if r.DreamID == "" {
			r.DreamID = run.DreamID
		}
		if r.RunID == "" {
			r.RunID = run.ID
		}
		rows[i] = r
	}
	run.Occurrences = rows
	return run
}
