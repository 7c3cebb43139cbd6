package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAssignsStrictlyIncreasingSequence(t *testing.T) {
	bus := NewBus()

	first := bus.Publish(SeverityInfo, "a", "one")
	second := bus.Publish(SeverityWarn, "b", "two")

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestConcurrentPublishersLoseNothing(t *testing.T) {
	bus := NewBus()

	const producers = 3
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				bus.Publish(SeverityInfo, fmt.Sprintf("producer-%d", p), fmt.Sprintf("event %d", i))
			}
		}(p)
	}
	wg.Wait()

	snapshot := bus.Snapshot()
	require.Len(t, snapshot, producers*perProducer)

	for i, event := range snapshot {
		// Strictly increasing with no gaps means no duplicates and no loss.
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestDrainResumesFromCursor(t *testing.T) {
	bus := NewBus()
	bus.Publish(SeverityInfo, "a", "one")
	bus.Publish(SeverityInfo, "a", "two")

	drained := bus.Drain()
	first := <-drained
	second := <-drained
	assert.Equal(t, "one", first.Message)
	assert.Equal(t, "two", second.Message)

	bus.Publish(SeverityInfo, "a", "three")
	third := <-drained
	assert.Equal(t, "three", third.Message)

	bus.Close()
	_, open := <-drained
	assert.False(t, open, "drain channel should close after bus close")
}

func TestDrainDeliversBufferedEventsAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Publish(SeverityInfo, "a", "buffered")
	bus.Close()

	var got []Event
	for event := range bus.Drain() {
		got = append(got, event)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "buffered", got[0].Message)
}

func TestCloseFlushesEveryBufferedEvent(t *testing.T) {
	bus := NewBus()

	const published = 200
	for i := 0; i < published; i++ {
		bus.Publish(SeverityInfo, "a", fmt.Sprintf("event %d", i))
	}
	bus.Close()

	// Shutdown flushes the backlog: the consumer attaching after Close
	// still receives every event, in order, before the channel closes.
	var got []Event
	for event := range bus.Drain() {
		got = append(got, event)
	}
	require.Len(t, got, published)
	for i, event := range got {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestConcurrentPublishersDrainInOrder(t *testing.T) {
	bus := NewBus()

	const producers = 3
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				bus.Publish(SeverityInfo, fmt.Sprintf("producer-%d", p), fmt.Sprintf("event %d", i))
			}
		}(p)
	}
	wg.Wait()
	bus.Close()

	var got []Event
	for event := range bus.Drain() {
		got = append(got, event)
	}
	require.Len(t, got, producers*perProducer)
	for i, event := range got {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus()
	bus.Close()

	event := bus.Publish(SeverityInfo, "a", "late")
	assert.Zero(t, event.Seq)
	assert.Empty(t, bus.Snapshot())
}

func TestLatest(t *testing.T) {
	bus := NewBus()

	_, ok := bus.Latest()
	assert.False(t, ok)

	bus.Publish(SeverityInfo, "a", "one")
	bus.Publish(SeverityError, "b", "two")

	latest, ok := bus.Latest()
	require.True(t, ok)
	assert.Equal(t, "two", latest.Message)
	assert.Equal(t, SeverityError, latest.Severity)
}

func TestSnapshotDoesNotAdvanceCursor(t *testing.T) {
	bus := NewBus()
	bus.Publish(SeverityInfo, "a", "one")

	_ = bus.Snapshot()

	drained := bus.Drain()
	select {
	case event := <-drained:
		assert.Equal(t, "one", event.Message)
	case <-time.After(time.Second):
		t.Fatal("drain should still deliver events seen by Snapshot")
	}
	bus.Close()
}
