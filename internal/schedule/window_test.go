package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWindowCompactsOversizedWindow(t *testing.T) {
	t.Parallel()
	w, err := ResolveWindow("2024-01-01", "2024-01-31", Workload{Units: 10}, DefaultConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, w.RequiredDays)
	assert.True(t, w.AutoCompacted)
	assert.Equal(t, "2024-01-07", w.End.String())
	assert.Equal(t, "2024-01-31", w.NominalEnd.String())
	require.NotNil(t, w.RecommendedEnd())
	assert.Equal(t, w.End, *w.RecommendedEnd())
}

func TestResolveWindowKeepsWindowThatIsNeeded(t *testing.T) {
	t.Parallel()
	// 40 units at 5/day = 8 working days = Jan 1..9 with the Sunday skipped.
	w, err := ResolveWindow("2024-01-01", "2024-01-14", Workload{Units: 40}, DefaultConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 9, w.RequiredDays)
	assert.False(t, w.AutoCompacted)
	assert.Nil(t, w.RecommendedEnd())
	assert.Equal(t, w.NominalEnd, w.End)
}

func TestResolveWindowSlackBelowMinimum(t *testing.T) {
	t.Parallel()
	w, err := ResolveWindow("2024-01-01", "2024-01-07", Workload{Units: 1}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, w.AutoCompacted)
	assert.Equal(t, 7, w.Len())
}

func TestResolveWindowNoUnitsNoCompaction(t *testing.T) {
	t.Parallel()
	w, err := ResolveWindow("2024-01-01", "2024-06-30", Workload{}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, w.AutoCompacted)
	assert.Zero(t, w.RequiredDays)
}

func TestResolveWindowCompactionDisabled(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Compaction.Enabled = false
	w, err := ResolveWindow("2024-01-01", "2024-03-31", Workload{Units: 1}, cfg, nil)
	require.NoError(t, err)
	assert.False(t, w.AutoCompacted)
}

func TestResolveWindowWithoutWeekRounding(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Compaction.RoundWeeks = false
	w, err := ResolveWindow("2024-01-01", "2024-01-31", Workload{Units: 10}, cfg, nil)
	require.NoError(t, err)
	assert.True(t, w.AutoCompacted)
	assert.Equal(t, "2024-01-02", w.End.String())
}

func TestResolveWindowFiniteRepeatSpan(t *testing.T) {
	t.Parallel()
	// Every 3 days x4 from Monday: Jan 1, 4, 7 (Sunday -> 8), 11.
	wl := Workload{Units: 4, Finite: []FiniteRepeat{{Every: 3, Count: 4}}}
	cfg := DefaultConfig()
	cfg.Compaction.RoundWeeks = false
	w, err := ResolveWindow("2024-01-01", "2024-02-29", wl, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 11, w.RequiredDays)
	assert.True(t, w.AutoCompacted)
	assert.Equal(t, "2024-01-11", w.End.String())
}

func TestResolveWindowStartOnRestDay(t *testing.T) {
	t.Parallel()
	// Sunday start: the first working day is Monday.
	w, err := ResolveWindow("2024-01-07", "2024-01-08", Workload{Units: 1}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, w.RequiredDays)
}

func TestResolveWindowErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, start, end, field string
	}{
		{name: "bad start", start: "invalid-date", end: "2024-01-31", field: "dream.start_date"},
		{name: "bad end", start: "2024-01-01", end: "31/01/2024", field: "dream.end_date"},
		{name: "empty end", start: "2024-01-01", end: "", field: "dream.end_date"},
		{name: "reversed", start: "2024-02-01", end: "2024-01-01", field: "dream.end_date"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveWindow(tt.start, tt.end, Workload{Units: 1}, DefaultConfig(), nil)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestEstimateWorkload(t *testing.T) {
	t.Parallel()
	tasks := []Task{
		{Action: Action{ID: "one"}},
		{Action: Action{ID: "open", RepeatEveryDays: intp(2)}},
		{Action: Action{ID: "finite", RepeatEveryDays: intp(3), RepeatCount: intp(4)}},
		{Action: Action{ID: "single", RepeatEveryDays: intp(3), RepeatCount: intp(1)}},
	}
	wl := EstimateWorkload(tasks)
	assert.Equal(t, 7, wl.Units)
	assert.Equal(t, []FiniteRepeat{{Every: 3, Count: 4}}, wl.Finite)
}
