package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ops/meridian/internal/types"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 10)
	defer cleanup()

	execID := types.NewID()
	err := bus.Publish(context.Background(), Event{
		Type:        EventExecutionObserved,
		ExecutionID: execID,
		ActionName:  "createDataset",
	})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Equal(t, EventExecutionObserved, e.Type)
		assert.Equal(t, execID, e.ExecutionID)
		assert.False(t, e.Timestamp.IsZero(), "publish stamps missing timestamps")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribe_FilterByType(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{
		Types: []EventType{EventExecutionTimeout},
	}, 10)
	defer cleanup()

	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventExecutionObserved}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventExecutionTimeout}))

	select {
	case e := <-ch:
		assert.Equal(t, EventExecutionTimeout, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event: %v", e.Type)
	default:
	}
}

func TestSubscribe_FilterByExecutionAndAction(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	wantExec := types.NewID()
	ch, cleanup := bus.Subscribe(context.Background(), Filter{
		ExecutionID: wantExec,
		ActionName:  "ingestContent",
	}, 10)
	defer cleanup()

	require.NoError(t, bus.Publish(context.Background(), Event{
		Type: EventExecutionCompleted, ExecutionID: types.NewID(), ActionName: "ingestContent",
	}))
	require.NoError(t, bus.Publish(context.Background(), Event{
		Type: EventExecutionCompleted, ExecutionID: wantExec, ActionName: "runSearch",
	}))
	require.NoError(t, bus.Publish(context.Background(), Event{
		Type: EventExecutionCompleted, ExecutionID: wantExec, ActionName: "ingestContent",
	}))

	select {
	case e := <-ch:
		assert.Equal(t, wantExec, e.ExecutionID)
		assert.Equal(t, "ingestContent", e.ActionName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	var mu sync.Mutex
	dropped := 0

	bus := NewBus(WithErrorHandler(func(err error, ctx map[string]any) {
		mu.Lock()
		dropped++
		mu.Unlock()
	}))
	defer bus.Close()

	// Buffer of 1, never drained.
	_, cleanup := bus.Subscribe(context.Background(), Filter{}, 1)
	defer cleanup()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Type: EventExecutionObserved}))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, dropped)
}

func TestClose_StopsPublishing(t *testing.T) {
	bus := NewBus()
	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 1)
	defer cleanup()

	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), Event{Type: EventExecutionObserved}))

	// Channel is closed.
	_, open := <-ch
	assert.False(t, open)

	// Idempotent.
	assert.NoError(t, bus.Close())
}

func TestUnsubscribe_RemovesSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cleanup := bus.Subscribe(context.Background(), Filter{}, 1)
	assert.Equal(t, 1, bus.SubscriberCount())

	cleanup()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestPublish_ConcurrentPublishers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cleanup := bus.Subscribe(context.Background(), Filter{}, 1000)
	defer cleanup()

	const publishers = 10
	const perPublisher = 50

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_ = bus.Publish(context.Background(), Event{Type: EventExecutionObserved})
			}
		}()
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			assert.Equal(t, publishers*perPublisher, received)
			return
		}
	}
}
