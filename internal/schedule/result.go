package schedule

import (
	"fmt"
	"sort"
	"strings"
)

// Outcome is the result of a scheduling run. It is one of Scheduled,
// ScheduledWithCompaction, ScheduledTight or Failed.
type Outcome interface {
	outcome()
}

// Scheduled: everything fit the nominal window.
type Scheduled struct {
	Occurrences []Occurrence
	Warnings    []string
}

// ScheduledWithCompaction: everything fit a window shorter than requested.
type ScheduledWithCompaction struct {
	Occurrences    []Occurrence
	Warnings       []string
	RecommendedEnd Day
}

// ScheduledTight: some required requests did not fit and were left for a
// later run. RecommendedEnd is set when the window was also compacted.
type ScheduledTight struct {
	Occurrences    []Occurrence
	Warnings       []string
	RecommendedEnd *Day
	Stranded       int
}

// Failed: fatal validation error, nothing was scheduled.
type Failed struct {
	Errors []string
}

func (Scheduled) outcome()               {}
func (ScheduledWithCompaction) outcome() {}
func (ScheduledTight) outcome()          {}
func (Failed) outcome()                  {}

func fail(err error) Failed { return Failed{Errors: []string{err.Error()}} }

// Result is the flat wire shape of an Outcome.
type Result struct {
	Success        bool         `json:"success"`
	Occurrences    []Occurrence `json:"occurrences"`
	Errors         []string     `json:"errors"`
	Warnings       []string     `json:"warnings"`
	AutoCompacted  bool         `json:"auto_compacted"`
	RecommendedEnd *Day         `json:"recommended_end,omitempty"`
	TooTight       bool         `json:"too_tight"`
}

// Flatten converts an Outcome to its wire shape. Slices are never nil.
func Flatten(o Outcome) Result {
	r := Result{Occurrences: []Occurrence{}, Errors: []string{}, Warnings: []string{}}
	switch v := o.(type) {
	case Scheduled:
		r.Success = true
		r.Occurrences = nonNil(v.Occurrences)
		r.Warnings = nonNil(v.Warnings)
	case ScheduledWithCompaction:
		r.Success = true
		r.Occurrences = nonNil(v.Occurrences)
		r.Warnings = nonNil(v.Warnings)
		r.AutoCompacted = true
		end := v.RecommendedEnd
		r.RecommendedEnd = &end
	case ScheduledTight:
		r.Success = true
		r.Occurrences = nonNil(v.Occurrences)
		r.Warnings = nonNil(v.Warnings)
		r.TooTight = true
		if v.RecommendedEnd != nil {
			end := *v.RecommendedEnd
			r.AutoCompacted = true
			r.RecommendedEnd = &end
		}
	case Failed:
		r.Errors = nonNil(v.Errors)
	default:
		panic(fmt.Sprintf("schedule: unknown outcome %T", o))
	}
	return r
}

// Occurrences returns the occurrences carried by any outcome.
func Occurrences(o Outcome) []Occurrence {
	switch v := o.(type) {
	case Scheduled:
		return v.Occurrences
	case ScheduledWithCompaction:
		return v.Occurrences
	case ScheduledTight:
		return v.Occurrences
	default:
		return nil
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Aggregate assembles the outcome of a successful run.
//
// Occurrences are ordered by due date, then priority, then occurrence number.
func Aggregate(w Window, tasks []Task, alloc Allocation, warnings []string) Outcome {
	occ := make([]Occurrence, 0, len(alloc.Placed))
	placed := append([]Placement(nil), alloc.Placed...)
	sort.SliceStable(placed, func(i, j int) bool {
		a, b := placed[i], placed[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Request.Rank != b.Request.Rank {
			return a.Request.Rank < b.Request.Rank
		}
		return a.Request.OccurrenceNo < b.Request.OccurrenceNo
	})
	for _, p := range placed {
		o := Occurrence{
			ActionID:     p.Request.ActionID,
			OccurrenceNo: p.Request.OccurrenceNo,
			DueOn:        p.Day,
			PlannedDueOn: p.Day,
		}
		if p.Request.Rank >= 0 && p.Request.Rank < len(tasks) {
			a := tasks[p.Request.Rank].Action
			o.Difficulty = a.Difficulty
			o.EstMinutes = a.EstMinutes
		}
		occ = append(occ, o)
	}

	if alloc.TooTight() {
		warnings = append(warnings, strandedWarnings(w, alloc.Stranded)...)
		return ScheduledTight{
			Occurrences:    occ,
			Warnings:       warnings,
			RecommendedEnd: w.RecommendedEnd(),
			Stranded:       countRequired(alloc.Stranded),
		}
	}
	if w.AutoCompacted {
		return ScheduledWithCompaction{Occurrences: occ, Warnings: warnings, RecommendedEnd: w.End}
	}
	return Scheduled{Occurrences: occ, Warnings: warnings}
}

func countRequired(rs []SlotRequest) int {
	n := 0
	for _, r := range rs {
		if !r.Spill {
			n++
		}
	}
	return n
}

// strandedWarnings emits one summary line plus one line per affected action.
func strandedWarnings(w Window, stranded []SlotRequest) []string {
	type span struct{ lo, hi int }
	var order []string
	byAction := map[string]*span{}
	for _, r := range stranded {
		if r.Spill {
			continue
		}
		s, ok := byAction[r.ActionID]
		if !ok {
			s = &span{lo: r.OccurrenceNo, hi: r.OccurrenceNo}
			byAction[r.ActionID] = s
			order = append(order, r.ActionID)
		}
		s.lo = min(s.lo, r.OccurrenceNo)
		s.hi = max(s.hi, r.OccurrenceNo)
	}

	out := make([]string, 0, len(order)+1)
	out = append(out, fmt.Sprintf("schedule too tight: %d occurrence(s) did not fit between %s and %s",
		countRequired(stranded), w.Start, w.End))
	for _, id := range order {
		s := byAction[id]
		var b strings.Builder
		fmt.Fprintf(&b, "action %s: ", id)
		if s.lo == s.hi {
			fmt.Fprintf(&b, "occurrence %d", s.lo)
		} else {
			fmt.Fprintf(&b, "occurrences %d-%d", s.lo, s.hi)
		}
		b.WriteString(" not scheduled")
		out = append(out, b.String())
	}
	return out
}
