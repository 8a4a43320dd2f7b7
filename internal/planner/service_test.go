package planner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamplan/internal/eventbus"
	"dreamplan/internal/schedule"
	"dreamplan/internal/storage"
	logx "dreamplan/pkg/logx"
)

func defaultOptions() Options {
	return Options{Engine: schedule.DefaultConfig(), Persist: true}
}

func sampleRequest(n int) Request {
	req := Request{
		Context: schedule.SchedulingContext{UserID: "u1"},
		Input: schedule.Input{
			Dream: schedule.Dream{ID: "d1", StartDate: "2024-01-01", EndDate: "2024-01-31"},
			Areas: []schedule.Area{{ID: "a1", DreamID: "d1"}},
		},
	}
	for i := 0; i < n; i++ {
		req.Actions = append(req.Actions, schedule.Action{ID: fmt.Sprintf("act%02d", i), AreaID: "a1", Position: i})
	}
	return req
}

func TestPlanPersistsAndIsIdempotent(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	svc := New(defaultOptions(), store, bus, logx.Nop())
	ctx := context.Background()

	first, err := svc.Plan(ctx, sampleRequest(7))
	require.NoError(t, err)
	assert.True(t, first.Result.Success)
	assert.True(t, first.Persisted)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 7, first.Stats.Placed)
	assert.Equal(t, 7, first.Stats.Inserted)
	assert.Zero(t, first.Stats.Existing)

	e := <-events
	assert.Equal(t, eventbus.ScheduleCompacted, e.Type)
	data := e.Data.(eventbus.ScheduleData)
	assert.Equal(t, first.RunID, data.RunID)
	assert.Equal(t, "2024-01-07", data.RecommendedEnd)

	second, err := svc.Plan(ctx, sampleRequest(7))
	require.NoError(t, err)
	assert.True(t, second.Result.Success)
	assert.Empty(t, second.Result.Occurrences)
	assert.Equal(t, 7, second.Stats.Existing)
	assert.Zero(t, second.Stats.Inserted)
	assert.NotEqual(t, first.RunID, second.RunID)

	stored, err := store.LoadOccurrences(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, stored, 7)

	runs, err := svc.History(ctx, "d1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
}

func TestPlanNewActionFillsAroundStored(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(defaultOptions(), store, nil, logx.Nop())
	ctx := context.Background()

	_, err := svc.Plan(ctx, sampleRequest(5))
	require.NoError(t, err)

	req := sampleRequest(6)
	rep, err := svc.Plan(ctx, req)
	require.NoError(t, err)
	require.Len(t, rep.Result.Occurrences, 1)
	assert.Equal(t, "act05", rep.Result.Occurrences[0].ActionID)
	// 2024-01-01 already holds five occurrences.
	assert.Equal(t, "2024-01-02", rep.Result.Occurrences[0].DueOn.String())
}

func TestPlanMergesSuppliedExisting(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	ctx := context.Background()
	_, err := store.SaveRun(ctx, storage.Run{ID: "r0", DreamID: "d1", Occurrences: []storage.OccurrenceRow{
		{ActionID: "act00", OccurrenceNo: 1, DueOn: "2024-01-01", PlannedDueOn: "2024-01-01"},
	}})
	require.NoError(t, err)

	svc := New(defaultOptions(), store, nil, logx.Nop())
	req := sampleRequest(2)
	req.ExistingOccurrences = []schedule.ExistingOccurrence{
		{ActionID: "act00", OccurrenceNo: 1, DueOn: "2024-01-05"},
		{ActionID: "act01", OccurrenceNo: 1, DueOn: "2024-01-02"},
	}
	rep, err := svc.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stats.Existing)
	assert.Empty(t, rep.Result.Occurrences)
}

func TestPlanValidationFailureIsNotAnError(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := New(defaultOptions(), store, bus, logx.Nop())

	req := sampleRequest(1)
	req.Dream.StartDate = "invalid-date"
	rep, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, rep.Result.Success)
	assert.Len(t, rep.Result.Errors, 1)
	assert.Zero(t, rep.Stats.Inserted)

	e := <-events
	assert.Equal(t, eventbus.ScheduleFailed, e.Type)

	runs, err := svc.History(context.Background(), "d1", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
	assert.Len(t, runs[0].Errors, 1)
}

func TestPlanTooTightPublishesTight(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()
	svc := New(defaultOptions(), nil, bus, logx.Nop())

	req := sampleRequest(12)
	req.Dream.EndDate = "2024-01-02"
	rep, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, rep.Result.TooTight)
	assert.Equal(t, 2, rep.Stats.Stranded)
	assert.False(t, rep.Persisted)
	assert.Equal(t, eventbus.ScheduleTight, (<-events).Type)
}

func TestPlanWithoutStorage(t *testing.T) {
	t.Parallel()
	svc := New(defaultOptions(), nil, nil, logx.Nop())
	rep, err := svc.Plan(context.Background(), sampleRequest(3))
	require.NoError(t, err)
	assert.Len(t, rep.Result.Occurrences, 3)
	assert.False(t, rep.Persisted)

	_, err = svc.History(context.Background(), "d1", 0)
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestPlanConcurrentRunsSameDream(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(defaultOptions(), store, nil, logx.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	inserted := make([]int, 8)
	for i := range inserted {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := svc.Plan(ctx, sampleRequest(12))
			if assert.NoError(t, err) {
				inserted[i] = rep.Stats.Inserted
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range inserted {
		total += n
	}
	assert.Equal(t, 12, total)

	stored, err := store.LoadOccurrences(ctx, "d1")
	require.NoError(t, err)
	perDay := map[string]int{}
	for _, r := range stored {
		perDay[r.DueOn]++
	}
	for day, n := range perDay {
		assert.LessOrEqual(t, n, schedule.DefaultDailyCap, day)
	}
	assert.Zero(t, svc.locks.size())
}

func TestPlanRateLimited(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	opts.RatePerSec = 0.01
	opts.Burst = 1
	svc := New(opts, nil, nil, logx.Nop())

	_, err := svc.Plan(context.Background(), sampleRequest(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Plan(ctx, sampleRequest(1))
	assert.ErrorIs(t, err, ErrRateLimited)

	opts.RatePerSec = 0
	svc.Apply(opts)
	_, err = svc.Plan(context.Background(), sampleRequest(1))
	assert.NoError(t, err)
}

func TestApplySwapsEngine(t *testing.T) {
	t.Parallel()
	svc := New(defaultOptions(), nil, nil, logx.Nop())
	req := sampleRequest(4)
	req.Dream.EndDate = "2024-01-06"

	rep, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", rep.Result.Occurrences[3].DueOn.String())

	opts := defaultOptions()
	opts.Engine.DailyCap = 2
	svc.Apply(opts)
	rep, err = svc.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", rep.Result.Occurrences[3].DueOn.String())
}

func TestDefaultTimezone(t *testing.T) {
	t.Parallel()
	opts := defaultOptions()
	opts.DefaultTimezone = "Asia/Tokyo"
	svc := New(opts, nil, nil, logx.Nop())

	req := sampleRequest(1)
	req.Dream.StartDate = "2024-01-01T20:00:00Z" // 2024-01-02 05:00 in Tokyo
	rep, err := svc.Plan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, rep.Result.Occurrences, 1)
	assert.Equal(t, "2024-01-02", rep.Result.Occurrences[0].DueOn.String())
}
