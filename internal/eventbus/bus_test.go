package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: SchedulePlanned, Data: ScheduleData{DreamID: "d1", Placed: 3}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, SchedulePlanned, e.Type)
		assert.False(t, e.Time.IsZero())
		data, ok := e.Data.(ScheduleData)
		require.True(t, ok)
		assert.Equal(t, 3, data.Placed)
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: ScheduleTight})
	b.Publish(Event{Type: ScheduleFailed})

	assert.Equal(t, ScheduleTight, (<-ch).Type)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: SchedulePlanned})
	assert.Zero(t, b.Dropped())
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: SchedulePlanned})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
}

func TestConsume(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	b.Publish(Event{Type: ScheduleCompacted})
	b.Publish(Event{Type: SchedulePlanned})
	unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []string
	Consume(ctx, ch, func(e Event) { got = append(got, e.Type) })
	assert.Equal(t, []string{ScheduleCompacted, SchedulePlanned}, got)
}
