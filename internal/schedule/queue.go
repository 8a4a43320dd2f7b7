package schedule

import (
	"fmt"
	"sort"
)

// Task is an action resolved against its area, in base priority order.
// Rank is the index in that order (0 = highest priority).
type Task struct {
	Action       Action
	AreaPosition int
	Rank         int
}

// SlotRequest asks the allocator for one occurrence of an action.
type SlotRequest struct {
	ActionID     string
	OccurrenceNo int
	Earliest     Day
	Every        int
	Rank         int

	// Spill marks open-ended repeat instances past the seed. Leaving them
	// unplaced is expected when the horizon overshoots the capacity.
	Spill bool
}

// Queue is an immutable, priority-ordered list of slot requests.
type Queue struct {
	entries []SlotRequest
}

func NewQueue(entries ...SlotRequest) Queue {
	return Queue{entries: append([]SlotRequest(nil), entries...)}
}

func (q Queue) Len() int { return len(q.entries) }

func (q Queue) At(i int) SlotRequest { return q.entries[i] }

// Entries returns a copy of the queue contents.
func (q Queue) Entries() []SlotRequest { return append([]SlotRequest(nil), q.entries...) }

// PrioritizeTasks selects the live actions of a dream and orders them by area
// position, then action position. Ties keep input order.
//
// Deleted areas, deleted or inactive actions are skipped silently; areas of
// another dream and actions without a live area produce warnings.
func PrioritizeTasks(dreamID string, areas []Area, actions []Action) ([]Task, []string) {
	var warnings []string

	live := make([]Area, 0, len(areas))
	deleted := map[string]bool{}
	for _, a := range areas {
		if a.Deleted() {
			deleted[a.ID] = true
			continue
		}
		if a.DreamID != "" && a.DreamID != dreamID {
			warnings = append(warnings, fmt.Sprintf("area %s belongs to dream %s; ignored", a.ID, a.DreamID))
			continue
		}
		live = append(live, a)
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].Position < live[j].Position })

	byArea := make(map[string][]Action, len(live))
	known := make(map[string]bool, len(live))
	for _, a := range live {
		known[a.ID] = true
	}
	for _, act := range actions {
		if act.Deleted() || !act.Active() {
			continue
		}
		if !known[act.AreaID] {
			if !deleted[act.AreaID] {
				warnings = append(warnings, fmt.Sprintf("action %s references unknown area %s; ignored", act.ID, act.AreaID))
			}
			continue
		}
		byArea[act.AreaID] = append(byArea[act.AreaID], act)
	}

	tasks := make([]Task, 0, len(actions))
	for _, area := range live {
		acts := byArea[area.ID]
		sort.SliceStable(acts, func(i, j int) bool { return acts[i].Position < acts[j].Position })
		for _, act := range acts {
			tasks = append(tasks, Task{Action: act, AreaPosition: area.Position, Rank: len(tasks)})
		}
		// An area listed twice must not emit its actions twice.
		delete(byArea, area.ID)
	}
	return tasks, warnings
}

// BuildQueue expands prioritized tasks into slot requests.
//
// One-off actions get a single request. Repeating actions get requests 1..k,
// where k is RepeatCount for finite repeats and, for open-ended ones, the
// number of cycles that fit the repeat horizon. Spacing between consecutive
// instances is enforced later by the allocator, since actual dates depend on
// capacity and rest days.
func BuildQueue(tasks []Task, w Window, cfg Config) Queue {
	cfg = cfg.normalize()

	horizon := w.Len()
	if h := cfg.Repeat.HorizonDays; h > 0 && h < horizon {
		horizon = h
	}

	entries := make([]SlotRequest, 0, len(tasks))
	for _, t := range tasks {
		a := t.Action
		every := a.Every()
		if every == 0 {
			entries = append(entries, SlotRequest{
				ActionID:     a.ID,
				OccurrenceNo: 1,
				Earliest:     w.Start,
				Rank:         t.Rank,
			})
			continue
		}

		var k int
		if a.OpenEnded() {
			k = (horizon-1)/every + 1
		} else {
			k = *a.RepeatCount
		}
		k = min(k, cfg.Repeat.MaxInstances)

		for n := 1; n <= k; n++ {
			entries = append(entries, SlotRequest{
				ActionID:     a.ID,
				OccurrenceNo: n,
				Earliest:     w.Start,
				Every:        every,
				Rank:         t.Rank,
				Spill:        a.OpenEnded() && n > 1,
			})
		}
	}
	return Queue{entries: entries}
}
