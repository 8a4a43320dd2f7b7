// Package schedule is the occurrence scheduling engine.
//
// Given a dream's date window and its ordered tree of areas and actions, it
// computes a calendar of concrete occurrences that:
//   - stays inside the (possibly compacted) window
//   - never lands on the weekly rest day
//   - respects the daily cap across the whole dream
//   - keeps repeat spacing per action, including across re-runs
//   - never re-creates occurrence numbers that already exist
//
// The engine is a pure function of its inputs: no I/O, no shared state between
// calls. Callers that persist the output are responsible for serializing runs
// of the same dream (see internal/planner).
package schedule
