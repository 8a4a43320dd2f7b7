package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(start, end string) Window {
	s, e := MustParseDay(start), MustParseDay(end)
	return Window{Start: s, NominalEnd: e, End: e}
}

func placedDays(a Allocation) map[string][]string {
	out := map[string][]string{}
	for _, p := range a.Placed {
		out[p.Request.ActionID] = append(out[p.Request.ActionID], p.Day.String())
	}
	return out
}

func TestAllocateFillsDaysUpToCap(t *testing.T) {
	t.Parallel()
	w := window("2024-01-06", "2024-01-09") // Sat, Sun, Mon, Tue
	var reqs []SlotRequest
	for i := 0; i < 12; i++ {
		reqs = append(reqs, SlotRequest{ActionID: string(rune('a' + i)), OccurrenceNo: 1, Earliest: w.Start, Rank: i})
	}
	alloc := Allocate(NewQueue(reqs...), w, NewLedger(nil), DefaultConfig())

	require.Len(t, alloc.Placed, 12)
	assert.Empty(t, alloc.Stranded)
	assert.False(t, alloc.TooTight())

	perDay := map[string]int{}
	for _, p := range alloc.Placed {
		perDay[p.Day.String()]++
	}
	assert.Equal(t, map[string]int{"2024-01-06": 5, "2024-01-08": 5, "2024-01-09": 2}, perDay)
	assert.Equal(t, 5, alloc.Ledger.Used(MustParseDay("2024-01-06")))
}

func TestAllocateRespectsRepeatSpacing(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-14")
	cfg := DefaultConfig()
	cfg.Compaction.Enabled = false
	tasks := []Task{{Action: Action{ID: "gym", RepeatEveryDays: intp(3)}}}

	alloc := Allocate(BuildQueue(tasks, w, cfg), w, NewLedger(nil), cfg)
	// Jan 7 is a Sunday, so the third instance slips to Monday and the fifth
	// (Jan 14, Sunday) is left over.
	assert.Equal(t, []string{"2024-01-01", "2024-01-04", "2024-01-08", "2024-01-11"}, placedDays(alloc)["gym"])
	require.Len(t, alloc.Stranded, 1)
	assert.True(t, alloc.Stranded[0].Spill)
	assert.False(t, alloc.TooTight())
}

func TestAllocateContinuesFromExisting(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-10")
	cfg := DefaultConfig()
	tasks := []Task{{Action: Action{ID: "read", RepeatEveryDays: intp(2)}}}
	seeded := []Seeded{{ActionID: "read", OccurrenceNo: 1, DueOn: MustParseDay("2024-01-01")}}

	q := FilterAlreadySeeded(BuildQueue(tasks, w, cfg), seeded)
	alloc := Allocate(q, w, NewLedger(seeded), cfg)

	var nos []int
	for _, p := range alloc.Placed {
		nos = append(nos, p.Request.OccurrenceNo)
	}
	assert.Equal(t, []int{2, 3, 4, 5}, nos)
	assert.Equal(t, []string{"2024-01-03", "2024-01-05", "2024-01-08", "2024-01-10"}, placedDays(alloc)["read"])
	last, ok := alloc.Ledger.Last("read")
	require.True(t, ok)
	assert.Equal(t, "2024-01-10", last.String())
}

func TestAllocateCountsExistingTowardsCap(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-03")
	jan1 := MustParseDay("2024-01-01")
	var seeded []Seeded
	for i := 0; i < 5; i++ {
		seeded = append(seeded, Seeded{ActionID: string(rune('p' + i)), OccurrenceNo: 1, DueOn: jan1})
	}
	q := NewQueue(SlotRequest{ActionID: "new", OccurrenceNo: 1, Earliest: w.Start})
	alloc := Allocate(q, w, NewLedger(seeded), DefaultConfig())

	require.Len(t, alloc.Placed, 1)
	assert.Equal(t, "2024-01-02", alloc.Placed[0].Day.String())
}

func TestAllocateDoesNotMutateLedger(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-01")
	ledger := NewLedger(nil)
	q := NewQueue(SlotRequest{ActionID: "x", OccurrenceNo: 1, Earliest: w.Start})

	first := Allocate(q, w, ledger, DefaultConfig())
	second := Allocate(q, w, ledger, DefaultConfig())
	assert.Zero(t, ledger.Used(w.Start))
	assert.Equal(t, first.Placed, second.Placed)
}

func TestAllocateSkipsBlockedEntryWithoutConsumingCapacity(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-02")
	cfg := DefaultConfig()
	cfg.DailyCap = 2
	q := NewQueue(
		SlotRequest{ActionID: "rep", OccurrenceNo: 1, Earliest: w.Start, Every: 5, Rank: 0},
		SlotRequest{ActionID: "rep", OccurrenceNo: 2, Earliest: w.Start, Every: 5, Rank: 0},
		SlotRequest{ActionID: "low", OccurrenceNo: 1, Earliest: w.Start, Rank: 1},
	)
	alloc := Allocate(q, w, NewLedger(nil), cfg)
	days := placedDays(alloc)
	assert.Equal(t, []string{"2024-01-01"}, days["rep"])
	assert.Equal(t, []string{"2024-01-01"}, days["low"])
	require.Len(t, alloc.Stranded, 1)
	assert.Equal(t, 2, alloc.Stranded[0].OccurrenceNo)
	assert.True(t, alloc.TooTight())
}

func TestAllocateStrandsWhenFull(t *testing.T) {
	t.Parallel()
	w := window("2024-01-01", "2024-01-01")
	var reqs []SlotRequest
	for i := 0; i < 7; i++ {
		reqs = append(reqs, SlotRequest{ActionID: string(rune('a' + i)), OccurrenceNo: 1, Earliest: w.Start, Rank: i})
	}
	alloc := Allocate(NewQueue(reqs...), w, NewLedger(nil), DefaultConfig())
	assert.Len(t, alloc.Placed, 5)
	require.Len(t, alloc.Stranded, 2)
	assert.Equal(t, "f", alloc.Stranded[0].ActionID)
	assert.Equal(t, "g", alloc.Stranded[1].ActionID)
	assert.True(t, alloc.TooTight())
}
