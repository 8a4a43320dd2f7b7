// Package planner runs the scheduling engine for one dream at a time,
// merging stored occurrences, persisting new ones and reporting the outcome.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dreamplan/internal/eventbus"
	"dreamplan/internal/schedule"
	"dreamplan/internal/storage"
	logx "dreamplan/pkg/logx"
)

var (
	ErrRateLimited = errors.New("planner: rate limited")
	ErrNoStorage   = errors.New("planner: storage disabled")
)

// Options are the live-tunable planner settings.
type Options struct {
	Engine schedule.Config
	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int
	// Persist stores produced occurrences and the run audit when a store is
	// configured.
	Persist bool
	// DefaultTimezone applies to requests without context.timezone.
	DefaultTimezone string
}

// Stats counts what happened in one run.
type Stats struct {
	Existing int   `json:"existing"`
	Placed   int   `json:"placed"`
	Inserted int   `json:"inserted"`
	Stranded int   `json:"stranded"`
	Warnings int   `json:"warnings"`
	TookMS   int64 `json:"took_ms"`
}

// Report is the outcome of Plan.
type Report struct {
	RunID     string          `json:"run_id"`
	DreamID   string          `json:"dream_id"`
	Result    schedule.Result `json:"result"`
	Stats     Stats           `json:"stats"`
	Persisted bool            `json:"persisted"`
}

type Service struct {
	mu      sync.RWMutex
	opts    Options
	engine  *schedule.Engine
	limiter *rate.Limiter

	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	locks *keyLock
}

// New creates a planner. store and bus may be nil.
func New(opts Options, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		bus:     bus,
		log:     log,
		locks:   newKeyLock(),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	s.Apply(opts)
	return s
}

// Apply swaps the engine tunables and rate limits. In-flight runs finish with
// the settings they started with.
func (s *Service) Apply(opts Options) {
	engine := schedule.New(opts.Engine, s.log.With(logx.String("comp", "engine")))

	limit, burst := rate.Inf, 1
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
		burst = max(opts.Burst, 1)
	}

	s.mu.Lock()
	s.opts = opts
	s.engine = engine
	s.limiter.SetLimit(limit)
	s.limiter.SetBurst(burst)
	s.mu.Unlock()
}

func (s *Service) snapshot() (Options, *schedule.Engine) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts, s.engine
}

// Options returns the options currently in effect.
func (s *Service) Options() Options {
	opts, _ := s.snapshot()
	return opts
}

// Plan schedules one dream.
//
// A request that fails validation is not an error: the report carries
// Result.Success=false. Errors are reserved for rate limiting, cancellation
// and storage failures.
func (s *Service) Plan(ctx context.Context, req Request) (Report, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	start := time.Now()
	opts, engine := s.snapshot()
	dreamID := strings.TrimSpace(req.Dream.ID)
	rep := Report{RunID: uuid.NewString(), DreamID: dreamID}
	log := s.log.With(logx.String("run", rep.RunID), logx.String("dream", dreamID))

	if dreamID != "" {
		unlock := s.locks.lock(dreamID)
		defer unlock()
	}

	in := req.Input
	if dreamID != "" && s.store != nil {
		stored, err := s.store.LoadOccurrences(ctx, dreamID)
		if err != nil {
			return Report{}, fmt.Errorf("load occurrences of %s: %w", dreamID, err)
		}
		in.ExistingOccurrences = mergeExisting(stored, req.ExistingOccurrences)
	}
	rep.Stats.Existing = len(in.ExistingOccurrences)

	sc := req.Context
	if strings.TrimSpace(sc.Timezone) == "" {
		sc.Timezone = opts.DefaultTimezone
	}

	outcome := engine.Schedule(sc, in)
	rep.Result = schedule.Flatten(outcome)
	rep.Stats.Placed = len(rep.Result.Occurrences)
	rep.Stats.Warnings = len(rep.Result.Warnings)
	if tight, ok := outcome.(schedule.ScheduledTight); ok {
		rep.Stats.Stranded = tight.Stranded
	}

	if opts.Persist && s.store != nil && dreamID != "" {
		run := toRun(rep, sc.UserID, start)
		n, err := s.store.SaveRun(ctx, run)
		if err != nil {
			return Report{}, fmt.Errorf("save run %s: %w", rep.RunID, err)
		}
		rep.Stats.Inserted = n
		rep.Persisted = true
	}
	rep.Stats.TookMS = time.Since(start).Milliseconds()

	s.publish(rep)
	s.logReport(log, rep)
	return rep, nil
}

// History returns the latest audit records of a dream, newest first.
func (s *Service) History(ctx context.Context, dreamID string, limit int) ([]storage.Run, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	return s.store.Runs(ctx, dreamID, limit)
}

// mergeExisting combines stored and request-supplied occurrences. The first
// record of an (action, number) pair wins; stored rows come first.
func mergeExisting(stored []storage.OccurrenceRow, supplied []schedule.ExistingOccurrence) []schedule.ExistingOccurrence {
	type key struct {
		action string
		no     int
	}
	seen := make(map[key]bool, len(stored)+len(supplied))
	out := make([]schedule.ExistingOccurrence, 0, len(stored)+len(supplied))
	for _, r := range stored {
		k := key{r.ActionID, r.OccurrenceNo}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, schedule.ExistingOccurrence{ActionID: r.ActionID, OccurrenceNo: r.OccurrenceNo, DueOn: r.DueOn})
	}
	for _, e := range supplied {
		k := key{e.ActionID, e.OccurrenceNo}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

func toRun(rep Report, userID string, start time.Time) storage.Run {
	res := rep.Result
	run := storage.Run{
		ID:            rep.RunID,
		DreamID:       rep.DreamID,
		UserID:        userID,
		At:            start.UTC(),
		Success:       res.Success,
		AutoCompacted: res.AutoCompacted,
		TooTight:      res.TooTight,
		Placed:        len(res.Occurrences),
		Warnings:      res.Warnings,
		Errors:        res.Errors,
		TookMS:        time.Since(start).Milliseconds(),
		Occurrences:   make([]storage.OccurrenceRow, 0, len(res.Occurrences)),
	}
	if res.RecommendedEnd != nil {
		run.RecommendedEnd = res.RecommendedEnd.String()
	}
	for _, o := range res.Occurrences {
		run.Occurrences = append(run.Occurrences, storage.OccurrenceRow{
			DreamID:      rep.DreamID,
			ActionID:     o.ActionID,
			OccurrenceNo: o.OccurrenceNo,
			DueOn:        o.DueOn.String(),
			PlannedDueOn: o.PlannedDueOn.String(),
			DeferCount:   o.DeferCount,
			Difficulty:   o.Difficulty,
			EstMinutes:   o.EstMinutes,
			RunID:        rep.RunID,
		})
	}
	return run
}

// eventType maps a result to the schedule.* event it publishes.
func eventType(res schedule.Result) string {
	switch {
	case !res.Success:
		return eventbus.ScheduleFailed
	case res.TooTight:
		return eventbus.ScheduleTight
	case res.AutoCompacted:
		return eventbus.ScheduleCompacted
	default:
		return eventbus.SchedulePlanned
	}
}

func (s *Service) publish(rep Report) {
	if s.bus == nil {
		return
	}
	data := eventbus.ScheduleData{
		RunID:    rep.RunID,
		DreamID:  rep.DreamID,
		Placed:   rep.Stats.Placed,
		Inserted: rep.Stats.Inserted,
		Warnings: rep.Stats.Warnings,
		Errors:   rep.Result.Errors,
	}
	if rep.Result.RecommendedEnd != nil {
		data.RecommendedEnd = rep.Result.RecommendedEnd.String()
	}
	s.bus.Publish(eventbus.Event{Type: eventType(rep.Result), Data: data})
}

func (s *Service) logReport(log logx.Logger, rep Report) {
	res := rep.Result
	if !res.Success {
		log.Warn("dream rejected", logx.String("errors", strings.Join(res.Errors, "; ")))
		return
	}
	fields := []logx.Field{
		logx.Int("existing", rep.Stats.Existing),
		logx.Int("placed", rep.Stats.Placed),
		logx.Int("inserted", rep.Stats.Inserted),
		logx.Bool("compacted", res.AutoCompacted),
		logx.Int64("took_ms", rep.Stats.TookMS),
	}
	if res.RecommendedEnd != nil {
		fields = append(fields, logx.String("recommended_end", res.RecommendedEnd.String()))
	}
	if res.TooTight {
		log.Warn("dream scheduled; window too tight", append(fields, logx.Int("stranded", rep.Stats.Stranded))...)
		for _, w := range res.Warnings {
			log.Debug("schedule warning", logx.String("warning", w))
		}
		return
	}
	log.Info("dream scheduled", fields...)
}
