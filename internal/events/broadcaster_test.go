package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runthru/internal/domain"
	"runthru/internal/logging"
)

func progress(id string, p int) Event {
	return Event{RecordingID: id, Type: TypeProgress, Status: domain.StatusRecording, Progress: p}
}

func TestSubscribeReceivesOnlyOwnRecording(t *testing.T) {
	b := NewBroadcaster(WithLogger(logging.Nop()))
	a, cancelA := b.Subscribe("rec-a")
	defer cancelA()
	all, cancelAll := b.Subscribe(AllRecordings)
	defer cancelAll()

	b.Publish(progress("rec-a", 10))
	b.Publish(progress("rec-b", 20))

	got := <-a
	assert.Equal(t, 10, got.Progress)
	assert.False(t, got.Timestamp.IsZero())
	select {
	case e := <-a:
		t.Fatalf("unexpected event for other recording: %+v", e)
	default:
	}

	assert.Equal(t, "rec-a", (<-all).RecordingID)
	assert.Equal(t, "rec-b", (<-all).RecordingID)
}

func TestLateSubscriberGetsNothingRetroactively(t *testing.T) {
	b := NewBroadcaster(WithLogger(logging.Nop()))
	b.Publish(progress("rec-a", 10))

	ch, cancel := b.Subscribe("rec-a")
	defer cancel()
	select {
	case e := <-ch:
		t.Fatalf("late subscriber received %+v", e)
	default:
	}
}

func TestSlowSubscriberNeverBlocksPublisher(t *testing.T) {
	b := NewBroadcaster(WithBuffer(2), WithLogger(logging.Nop()))
	_, cancel := b.Subscribe("rec-a")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(progress("rec-a", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	stats := b.Stats()
	assert.EqualValues(t, 2, stats.Sent)
	assert.EqualValues(t, 98, stats.Dropped)
}

func TestTerminalEventDisplacesOldest(t *testing.T) {
	b := NewBroadcaster(WithBuffer(2), WithLogger(logging.Nop()))
	ch, cancel := b.Subscribe("rec-a")
	defer cancel()

	b.Publish(progress("rec-a", 10))
	b.Publish(progress("rec-a", 20))
	b.Publish(Event{RecordingID: "rec-a", Type: TypeStatus, Status: domain.StatusCompleted, Progress: 100})

	first := <-ch
	last := <-ch
	assert.Equal(t, 20, first.Progress)
	assert.True(t, last.Terminal())
	assert.Equal(t, 100, last.Progress)
}

func TestCancelClosesAndIsIdempotent(t *testing.T) {
	b := NewBroadcaster(WithLogger(logging.Nop()))
	ch, cancel := b.Subscribe("rec-a")
	assert.Equal(t, 1, b.SubscriberCount("rec-a"))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("rec-a"))
	assert.EqualValues(t, 0, b.Stats().ActiveSubscribers)
	assert.EqualValues(t, 1, b.Stats().TotalSubscribers)

	require.NotPanics(t, func() { b.Publish(progress("rec-a", 1)) })
}

func TestPerRecordingOrderPreserved(t *testing.T) {
	b := NewBroadcaster(WithBuffer(1000), WithLogger(logging.Nop()))
	ch, cancel := b.Subscribe("rec-a")
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			b.Publish(progress("rec-a", i))
		}
	}()
	// Unrelated publishers and subscribers churn concurrently.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, c := b.Subscribe("rec-other")
				b.Publish(progress("rec-other", j))
				c()
			}
		}()
	}
	wg.Wait()

	prev := 0
	for i := 0; i < 500; i++ {
		e := <-ch
		require.Greater(t, e.Progress, prev)
		prev = e.Progress
	}
}
