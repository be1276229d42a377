package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

func TestQueue_SingleChannelPreservesFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	q := New(10, 1, func(ctx context.Context, item *Item) {
		mu.Lock()
		order = append(order, item.TaskID)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	defer q.Shutdown()

	_, err := q.Enqueue(context.Background(), "c1", "t1")
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "c1", "t2")
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "c1", "t3")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all items to run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}

func TestQueue_FairnessAcrossChannels(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := map[string]int{}
	allStarted := make(chan struct{})

	q := New(10, 1, func(ctx context.Context, item *Item) {
		mu.Lock()
		started[item.ChannelID]++
		total := started["a"] + started["b"]
		mu.Unlock()
		if total == 1 {
			close(allStarted)
		}
		<-release
	})
	defer q.Shutdown()

	_, err := q.Enqueue(context.Background(), "a", "a1")
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "b", "b1")
	require.NoError(t, err)

	<-allStarted
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started["a"] == 1 && started["b"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_Enqueue_BackpressureAtDepth(t *testing.T) {
	block := make(chan struct{})
	q := New(1, 1, func(ctx context.Context, item *Item) {
		<-block
	})
	defer func() {
		close(block)
		q.Shutdown()
	}()

	_, err := q.Enqueue(context.Background(), "c1", "t1")
	require.NoError(t, err)

	// t1 should get picked up by the single worker, freeing the channel's
	// own queue slot; fill the queue to its depth bound behind it.
	require.Eventually(t, func() bool {
		return q.Depth("c1") == 0
	}, time.Second, 5*time.Millisecond)

	_, err = q.Enqueue(context.Background(), "c1", "t2")
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), "c1", "t3")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.QueueFull, me.Code)
}

func TestQueue_Cancel_RemovesQueuedItemBeforeItRuns(t *testing.T) {
	block := make(chan struct{})
	var ran []string
	var mu sync.Mutex

	q := New(10, 1, func(ctx context.Context, item *Item) {
		mu.Lock()
		ran = append(ran, item.TaskID)
		mu.Unlock()
		<-block
	})
	defer func() {
		close(block)
		q.Shutdown()
	}()

	_, err := q.Enqueue(context.Background(), "c1", "t1") // occupies the one worker
	require.NoError(t, err)
	item2, err := q.Enqueue(context.Background(), "c1", "t2")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Depth("c1") == 1 }, time.Second, 5*time.Millisecond)

	ok := q.Cancel("t2")
	assert.True(t, ok)
	assert.Equal(t, context.Canceled, item2.Context().Err())

	close(block)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1 && ran[0] == "t1"
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_Cancel_UnknownTaskReturnsFalse(t *testing.T) {
	q := New(10, 1, func(ctx context.Context, item *Item) {})
	defer q.Shutdown()
	assert.False(t, q.Cancel("ghost"))
}

func TestQueue_Shutdown_RejectsFurtherEnqueues(t *testing.T) {
	q := New(10, 1, func(ctx context.Context, item *Item) {})
	q.Shutdown()

	_, err := q.Enqueue(context.Background(), "c1", "t1")
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.AbortedByShutdown, me.Code)
}

func TestQueue_Shutdown_CancelsRunningItem(t *testing.T) {
	started := make(chan struct{})
	q := New(10, 1, func(ctx context.Context, item *Item) {
		close(started)
		<-ctx.Done()
	})

	_, err := q.Enqueue(context.Background(), "c1", "t1")
	require.NoError(t, err)
	<-started

	q.Shutdown()
	// Shutdown should not hang; if the run func above never sees ctx.Done,
	// this test relies on the goroutine leaking rather than blocking test
	// exit, which testing tolerates.
}
