package schedule

import (
	"math"
	"time"
)

// Window is a resolved dream window.
//
// End is the end in force: the recommended end when AutoCompacted, otherwise
// NominalEnd.
type Window struct {
	Start         Day
	NominalEnd    Day
	End           Day
	AutoCompacted bool
	RequiredDays  int
}

func (w Window) Len() int { return daysBetween(w.Start, w.End) }

func (w Window) NominalLen() int { return daysBetween(w.Start, w.NominalEnd) }

func (w Window) Contains(d Day) bool { return d >= w.Start && d <= w.End }

// RecommendedEnd returns the compacted end, or nil when no compaction happened.
func (w Window) RecommendedEnd() *Day {
	if !w.AutoCompacted {
		return nil
	}
	end := w.End
	return &end
}

// Workload is the minimum amount of work the window has to hold.
type Workload struct {
	// Units counts occurrences that must be placed: one per one-off or
	// open-ended action, RepeatCount per finite repeating action.
	Units int
	// Finite lists finite repeats, whose spacing alone needs a minimum span.
	Finite []FiniteRepeat
}

type FiniteRepeat struct {
	Every int
	Count int
}

// EstimateWorkload derives the workload from prioritized tasks. Existing
// occurrences are ignored so the recommendation stays stable across re-runs.
func EstimateWorkload(tasks []Task) Workload {
	var wl Workload
	for _, t := range tasks {
		a := t.Action
		switch {
		case a.Every() == 0, a.OpenEnded():
			wl.Units++
		default:
			n := *a.RepeatCount
			wl.Units += n
			if n > 1 {
				wl.Finite = append(wl.Finite, FiniteRepeat{Every: a.Every(), Count: n})
			}
		}
	}
	return wl
}

// ResolveWindow validates the dream dates and decides whether the window should
// be compacted for the given workload.
func ResolveWindow(startRaw, endRaw string, wl Workload, cfg Config, loc *time.Location) (Window, error) {
	cfg = cfg.normalize()

	start, err := ParseDay(startRaw, loc)
	if err != nil {
		return Window{}, invalid("dream.start_date", "%v", err)
	}
	end, err := ParseDay(endRaw, loc)
	if err != nil {
		return Window{}, invalid("dream.end_date", "%v", err)
	}
	if end < start {
		return Window{}, invalid("dream.end_date", "%s is before start date %s", end, start)
	}

	w := Window{Start: start, NominalEnd: end, End: end}
	w.RequiredDays = requiredDays(start, wl, cfg)

	if !cfg.Compaction.Enabled || wl.Units == 0 {
		return w, nil
	}
	nominal := w.NominalLen()
	if float64(nominal) <= float64(w.RequiredDays)*cfg.Compaction.Factor {
		return w, nil
	}
	if nominal-w.RequiredDays < cfg.Compaction.MinSlackDays {
		return w, nil
	}

	rec := w.RequiredDays
	if cfg.Compaction.RoundWeeks {
		rec = ((rec + 6) / 7) * 7
	}
	if rec >= nominal {
		return w, nil
	}
	w.End = start.AddDays(rec - 1)
	w.AutoCompacted = true
	return w, nil
}

// requiredDays is the shortest window starting at start that can hold the
// workload at the daily cap with rest days skipped.
func requiredDays(start Day, wl Workload, cfg Config) int {
	if wl.Units <= 0 {
		return 0
	}
	working := int(math.Ceil(float64(wl.Units) / float64(cfg.DailyCap)))
	d := start
	for n := 0; ; d++ {
		if cfg.isRestDay(d) {
			continue
		}
		n++
		if n == working {
			break
		}
	}
	need := daysBetween(start, d)

	for _, fr := range wl.Finite {
		if span := repeatSpan(start, fr, cfg); span > need {
			need = span
		}
	}
	return need
}

// repeatSpan is the days needed to fit a finite repeat on its own, bumping
// instances that would fall on the rest day.
func repeatSpan(start Day, fr FiniteRepeat, cfg Config) int {
	count := min(fr.Count, cfg.Repeat.MaxInstances)
	d := start
	for cfg.isRestDay(d) {
		d++
	}
	for i := 1; i < count; i++ {
		d = d.AddDays(fr.Every)
		for cfg.isRestDay(d) {
			d++
		}
	}
	return daysBetween(start, d)
}

// settleCompaction checks a compacted window against a dry allocation of the
// full queue. If the shorter window strands required requests the nominal
// window would place, the end moves out a week at a time, up to the nominal
// end. Existing occurrences are left out so re-runs settle on the same end.
func settleCompaction(w Window, tasks []Task, cfg Config) Window {
	if !w.AutoCompacted {
		return w
	}
	stranded := func(win Window) int {
		return countRequired(Allocate(BuildQueue(tasks, win, cfg), win, NewLedger(nil), cfg).Stranded)
	}

	nominal := w
	nominal.End, nominal.AutoCompacted = w.NominalEnd, false
	limit := stranded(nominal)

	for end := w.End; end < w.NominalEnd; end = end.AddDays(7) {
		cand := w
		cand.End = end
		if stranded(cand) <= limit {
			return cand
		}
	}
	return nominal
}
