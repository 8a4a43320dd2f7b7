package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskIDs(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Action.ID)
	}
	return out
}

func TestPrioritizeTasksOrdersByAreaThenAction(t *testing.T) {
	t.Parallel()
	areas := []Area{
		{ID: "health", DreamID: "d1", Position: 2},
		{ID: "career", DreamID: "d1", Position: 1},
	}
	actions := []Action{
		{ID: "run", AreaID: "health", Position: 1},
		{ID: "stretch", AreaID: "health", Position: 0},
		{ID: "cv", AreaID: "career", Position: 5},
		{ID: "network", AreaID: "career", Position: 5},
		{ID: "course", AreaID: "career", Position: 3},
	}
	tasks, warnings := PrioritizeTasks("d1", areas, actions)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"course", "cv", "network", "stretch", "run"}, taskIDs(tasks))
	for i, task := range tasks {
		assert.Equal(t, i, task.Rank)
	}
	assert.Equal(t, 1, tasks[0].AreaPosition)
	assert.Equal(t, 2, tasks[4].AreaPosition)
}

func TestPrioritizeTasksSkipsDeadItems(t *testing.T) {
	t.Parallel()
	gone := "2024-01-01T00:00:00Z"
	areas := []Area{
		{ID: "live", DreamID: "d1"},
		{ID: "dropped", DreamID: "d1", DeletedAt: &gone},
		{ID: "foreign", DreamID: "d2"},
	}
	actions := []Action{
		{ID: "keep", AreaID: "live"},
		{ID: "explicit", AreaID: "live", IsActive: boolp(true)},
		{ID: "paused", AreaID: "live", IsActive: boolp(false)},
		{ID: "removed", AreaID: "live", DeletedAt: &gone},
		{ID: "in-dropped", AreaID: "dropped"},
		{ID: "in-foreign", AreaID: "foreign"},
		{ID: "orphan", AreaID: "missing"},
	}
	tasks, warnings := PrioritizeTasks("d1", areas, actions)
	assert.Equal(t, []string{"keep", "explicit"}, taskIDs(tasks))
	assert.Equal(t, []string{
		"area foreign belongs to dream d2; ignored",
		"action in-foreign references unknown area foreign; ignored",
		"action orphan references unknown area missing; ignored",
	}, warnings)
}

func TestPrioritizeTasksDuplicateAreaEmitsOnce(t *testing.T) {
	t.Parallel()
	areas := []Area{{ID: "a", DreamID: "d1"}, {ID: "a", DreamID: "d1"}}
	tasks, _ := PrioritizeTasks("d1", areas, []Action{{ID: "x", AreaID: "a"}})
	assert.Len(t, tasks, 1)
}

func TestBuildQueueExpandsRepeats(t *testing.T) {
	t.Parallel()
	w := Window{Start: MustParseDay("2024-01-01"), End: MustParseDay("2024-01-14")}
	w.NominalEnd = w.End
	tasks := []Task{
		{Action: Action{ID: "once"}, Rank: 0},
		{Action: Action{ID: "weekly", RepeatEveryDays: intp(7)}, Rank: 1},
		{Action: Action{ID: "thrice", RepeatEveryDays: intp(2), RepeatCount: intp(3)}, Rank: 2},
	}
	q := BuildQueue(tasks, w, DefaultConfig())
	require.Equal(t, 6, q.Len())

	type key struct {
		id    string
		no    int
		spill bool
	}
	var got []key
	for _, r := range q.Entries() {
		got = append(got, key{r.ActionID, r.OccurrenceNo, r.Spill})
		assert.Equal(t, w.Start, r.Earliest)
	}
	assert.Equal(t, []key{
		{"once", 1, false},
		{"weekly", 1, false},
		{"weekly", 2, true},
		{"thrice", 1, false},
		{"thrice", 2, false},
		{"thrice", 3, false},
	}, got)
	assert.Equal(t, 7, q.At(1).Every)
	assert.Equal(t, 0, q.At(0).Every)
}

func TestBuildQueueHonoursRepeatPolicy(t *testing.T) {
	t.Parallel()
	w := Window{Start: MustParseDay("2024-01-01"), End: MustParseDay("2024-03-31")}
	tasks := []Task{
		{Action: Action{ID: "daily", RepeatEveryDays: intp(1)}},
		{Action: Action{ID: "many", RepeatEveryDays: intp(1), RepeatCount: intp(10)}, Rank: 1},
	}

	cfg := DefaultConfig()
	cfg.Repeat.HorizonDays = 7
	cfg.Repeat.MaxInstances = 4
	q := BuildQueue(tasks, w, cfg)

	counts := map[string]int{}
	for _, r := range q.Entries() {
		counts[r.ActionID]++
	}
	assert.Equal(t, map[string]int{"daily": 4, "many": 4}, counts)

	cfg.Repeat.MaxInstances = 100
	q = BuildQueue(tasks, w, cfg)
	counts = map[string]int{}
	for _, r := range q.Entries() {
		counts[r.ActionID]++
	}
	assert.Equal(t, map[string]int{"daily": 7, "many": 10}, counts)
}

func TestQueueEntriesIsACopy(t *testing.T) {
	t.Parallel()
	q := NewQueue(SlotRequest{ActionID: "a", OccurrenceNo: 1})
	e := q.Entries()
	e[0].ActionID = "mutated"
	assert.Equal(t, "a", q.At(0).ActionID)
}

func TestFilterAlreadySeeded(t *testing.T) {
	t.Parallel()
	q := NewQueue(
		SlotRequest{ActionID: "a", OccurrenceNo: 1},
		SlotRequest{ActionID: "a", OccurrenceNo: 2},
		SlotRequest{ActionID: "a", OccurrenceNo: 3},
		SlotRequest{ActionID: "b", OccurrenceNo: 1},
		SlotRequest{ActionID: "c", OccurrenceNo: 1},
	)
	existing := []Seeded{
		{ActionID: "a", OccurrenceNo: 2, DueOn: MustParseDay("2024-01-03")},
		{ActionID: "c", OccurrenceNo: 1, DueOn: MustParseDay("2024-01-01")},
		{ActionID: "gone", OccurrenceNo: 9, DueOn: MustParseDay("2024-01-01")},
	}
	out := FilterAlreadySeeded(q, existing)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, SlotRequest{ActionID: "a", OccurrenceNo: 3}, out.At(0))
	assert.Equal(t, SlotRequest{ActionID: "b", OccurrenceNo: 1}, out.At(1))

	assert.Equal(t, q.Len(), FilterAlreadySeeded(q, nil).Len())
}
