package schedule

import (
	"fmt"
	"strings"
	"time"

	logx "dreamplan/pkg/logx"
)

// Engine runs the scheduling pipeline with a fixed configuration.
//
// It holds no mutable state; one Engine may serve many dreams concurrently.
type Engine struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.normalize(), log: log}
}

func (e *Engine) Config() Config { return e.cfg }

// Schedule computes the new occurrences for one dream.
//
// Pipeline: validate -> prioritize -> resolve window -> settle compaction ->
// build queue -> drop already seeded -> allocate -> aggregate.
func (e *Engine) Schedule(sc SchedulingContext, in Input) Outcome {
	start := time.Now()
	log := e.log.With(logx.String("dream", in.Dream.ID))

	loc, err := loadLocation(sc.Timezone)
	if err != nil {
		log.Debug("scheduling rejected", logx.Err(err))
		return fail(err)
	}
	if err := validateInput(in); err != nil {
		log.Debug("scheduling rejected", logx.Err(err))
		return fail(err)
	}
	seeded, err := parseExisting(in.ExistingOccurrences, loc)
	if err != nil {
		log.Debug("scheduling rejected", logx.Err(err))
		return fail(err)
	}

	tasks, warnings := PrioritizeTasks(in.Dream.ID, in.Areas, in.Actions)
	w, err := ResolveWindow(in.Dream.StartDate, in.Dream.EndDate, EstimateWorkload(tasks), e.cfg, loc)
	if err != nil {
		log.Debug("scheduling rejected", logx.Err(err))
		return fail(err)
	}
	w = settleCompaction(w, tasks, e.cfg)

	queue := FilterAlreadySeeded(BuildQueue(tasks, w, e.cfg), seeded)
	alloc := Allocate(queue, w, NewLedger(seeded), e.cfg)

	if spill := len(alloc.Stranded) - countRequired(alloc.Stranded); spill > 0 {
		log.Debug("open-ended repeats past capacity left for later runs", logx.Int("count", spill))
	}
	log.Debug("scheduling done",
		logx.String("window_start", w.Start.String()),
		logx.String("window_end", w.End.String()),
		logx.Bool("compacted", w.AutoCompacted),
		logx.Int("tasks", len(tasks)),
		logx.Int("requested", queue.Len()),
		logx.Int("placed", len(alloc.Placed)),
		logx.Duration("took", time.Since(start)),
	)
	return Aggregate(w, tasks, alloc, warnings)
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, invalid("context.timezone", "unknown timezone %q", tz)
	}
	return loc, nil
}

func validateInput(in Input) error {
	if strings.TrimSpace(in.Dream.ID) == "" {
		return invalid("dream.id", "required")
	}
	for i, a := range in.Actions {
		if strings.TrimSpace(a.ID) == "" {
			return invalid(indexed("actions", i, "id"), "required")
		}
		if a.RepeatEveryDays != nil && *a.RepeatEveryDays < 1 {
			return invalid(indexed("actions", i, "repeat_every_days"), "must be >= 1, got %d", *a.RepeatEveryDays)
		}
		if a.RepeatCount != nil {
			if a.RepeatEveryDays == nil {
				return invalid(indexed("actions", i, "repeat_count"), "requires repeat_every_days")
			}
			if *a.RepeatCount < 1 {
				return invalid(indexed("actions", i, "repeat_count"), "must be >= 1, got %d", *a.RepeatCount)
			}
		}
	}
	return nil
}

func parseExisting(in []ExistingOccurrence, loc *time.Location) ([]Seeded, error) {
	out := make([]Seeded, 0, len(in))
	for i, e := range in {
		if strings.TrimSpace(e.ActionID) == "" {
			return nil, invalid(indexed("existing_occurrences", i, "action_id"), "required")
		}
		if e.OccurrenceNo < 1 {
			return nil, invalid(indexed("existing_occurrences", i, "occurrence_no"), "must be >= 1, got %d", e.OccurrenceNo)
		}
		d, err := ParseDay(e.DueOn, loc)
		if err != nil {
			return nil, invalid(indexed("existing_occurrences", i, "due_on"), "%v", err)
		}
		out = append(out, Seeded{ActionID: e.ActionID, OccurrenceNo: e.OccurrenceNo, DueOn: d})
	}
	return out, nil
}

func indexed(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}
