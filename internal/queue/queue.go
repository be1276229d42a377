// Package queue implements the Per-Channel Queue (C4): a bounded FIFO per
// channel with round-robin fairness across channels and a global worker
// pool cap, grounded on the teacher's goroutine-per-active-unit idiom
// (DelegateManager.active, a sync.Map keyed by id) generalized here to a
// mutex-guarded map plus an explicit dispatch loop so fairness can be
// enforced centrally rather than per-goroutine.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

// Item is a QueueItem (§3): a task id plus its cancellation handle. It
// lives on exactly one channel queue at a time.
type Item struct {
	TaskID     string
	ChannelID  string
	EnqueuedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the item's per-task context, cancelled by Cancel or by
// the queue's own shutdown.
func (it *Item) Context() context.Context { return it.ctx }

// RunFunc executes one dequeued item to completion. The queue calls it
// synchronously inside a worker goroutine holding one global pool slot;
// RunFunc must itself honor ctx cancellation (P9 cancellation semantics
// are the caller's, not the queue's, responsibility beyond propagating ctx).
type RunFunc func(ctx context.Context, item *Item)

// MetricsSink is the narrow metrics-recording surface the Queue needs
// (C12), satisfied by *metrics.Metrics without this package importing it.
type MetricsSink interface {
	SetQueueDepth(channel string, depth int)
	ObserveQueueWait(channel string, wait time.Duration)
}

type channelState struct {
	items  []*Item
	active bool
}

// Queue is the Per-Channel Queue (§4.4).
type Queue struct {
	mu       sync.Mutex
	channels map[string]*channelState
	order    []string // round-robin order of channel ids with any queued state
	cursor   int

	depth    int
	run      RunFunc
	sem      chan struct{} // global worker pool
	active   map[string]context.CancelFunc
	doorbell chan struct{}
	stop     chan struct{}
	stopped  bool

	metrics MetricsSink
}

// SetMetrics wires a metrics sink. Safe to call once before the queue
// starts receiving Enqueue calls.
func (q *Queue) SetMetrics(m MetricsSink) { q.metrics = m }

// New builds a Queue with the given per-channel depth bound and global
// worker pool size, both defaulting per config.QueueConfig when <= 0
// (100 / 10, §6).
func New(depth, globalWorkers int, run RunFunc) *Queue {
	if depth <= 0 {
		depth = 100
	}
	if globalWorkers <= 0 {
		globalWorkers = 10
	}
	q := &Queue{
		channels: make(map[string]*channelState),
		depth:    depth,
		run:      run,
		sem:      make(chan struct{}, globalWorkers),
		active:   make(map[string]context.CancelFunc),
		doorbell: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go q.dispatchLoop()
	return q
}

// Enqueue admits taskID onto channelID's FIFO, returning QUEUE_FULL if the
// channel is already at its bound (P8). The returned Item's context is
// derived from ctx and cancelled by Cancel or Shutdown.
func (q *Queue) Enqueue(ctx context.Context, channelID, taskID string) (*Item, error) {
	itemCtx, cancel := context.WithCancel(ctx)
	item := &Item{
		TaskID:     taskID,
		ChannelID:  channelID,
		EnqueuedAt: time.Now().UTC(),
		ctx:        itemCtx,
		cancel:     cancel,
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		cancel()
		return nil, moonerr.New(moonerr.AbortedByShutdown, "queue is shutting down")
	}
	cs, ok := q.channels[channelID]
	if !ok {
		cs = &channelState{}
		q.channels[channelID] = cs
		q.order = append(q.order, channelID)
	}
	if len(cs.items) >= q.depth {
		q.mu.Unlock()
		cancel()
		return nil, moonerr.New(moonerr.QueueFull, "channel queue is at capacity")
	}
	cs.items = append(cs.items, item)
	q.active[taskID] = cancel
	depth := len(cs.items)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetQueueDepth(channelID, depth)
	}
	q.ring()
	return item, nil
}

// Cancel removes taskID from its channel queue if not yet started, or
// cancels its context if a worker is already running it.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	cancel, ok := q.active[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	for _, cs := range q.channels {
		for i, it := range cs.items {
			if it.TaskID == taskID {
				cs.items = append(cs.items[:i], cs.items[i+1:]...)
				delete(q.active, taskID)
				q.mu.Unlock()
				cancel()
				return true
			}
		}
	}
	q.mu.Unlock()
	cancel() // already running: signal its context, dispatchLoop cleans up on completion
	return true
}

// Depth reports the current queued (not yet running) length for channelID.
func (q *Queue) Depth(channelID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cs, ok := q.channels[channelID]; ok {
		return len(cs.items)
	}
	return 0
}

// ring wakes the dispatch loop without blocking if it is already awake.
func (q *Queue) ring() {
	select {
	case q.doorbell <- struct{}{}:
	default:
	}
}

func (q *Queue) dispatchLoop() {
	for {
		select {
		case <-q.stop:
			return
		case <-q.doorbell:
		}
		q.dispatchReady()
	}
}

// dispatchReady schedules as many ready channels as the global pool
// allows, walking q.order round-robin from q.cursor so no channel
// monopolizes the pool (§4.4 fairness).
func (q *Queue) dispatchReady() {
	for {
		q.mu.Lock()
		if q.stopped || len(q.order) == 0 {
			q.mu.Unlock()
			return
		}

		var chosen string
		var item *Item
		n := len(q.order)
		for i := 0; i < n; i++ {
			idx := (q.cursor + i) % n
			id := q.order[idx]
			cs := q.channels[id]
			if cs == nil || cs.active || len(cs.items) == 0 {
				continue
			}
			chosen = id
			item = cs.items[0]
			cs.items = cs.items[1:]
			cs.active = true
			q.cursor = (idx + 1) % n
			break
		}
		if chosen == "" {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		select {
		case q.sem <- struct{}{}:
		default:
			// pool is saturated; put the item back and stop scanning until
			// a slot frees up and rings the doorbell again.
			q.mu.Lock()
			cs := q.channels[chosen]
			cs.items = append([]*Item{item}, cs.items...)
			cs.active = false
			q.mu.Unlock()
			return
		}

		go q.runOne(chosen, item)
	}
}

func (q *Queue) runOne(channelID string, item *Item) {
	if q.metrics != nil {
		q.metrics.ObserveQueueWait(channelID, time.Since(item.EnqueuedAt))
	}

	defer func() {
		<-q.sem
		q.mu.Lock()
		delete(q.active, item.TaskID)
		var remaining int
		if cs, ok := q.channels[channelID]; ok {
			cs.active = false
			remaining = len(cs.items)
			if remaining == 0 {
				q.removeFromOrder(channelID)
			}
		}
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.SetQueueDepth(channelID, remaining)
		}
		q.ring()
	}()

	if q.run != nil {
		q.run(item.ctx, item)
	}
}

// removeFromOrder drops channelID from the round-robin order once its
// queue is empty, matching the teacher's "drop the slot on empty" idiom.
// Caller must hold q.mu.
func (q *Queue) removeFromOrder(channelID string) {
	for i, id := range q.order {
		if id == channelID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			if i < q.cursor {
				q.cursor--
			}
			if q.cursor >= len(q.order) {
				q.cursor = 0
			}
			delete(q.channels, channelID)
			return
		}
	}
}

// Shutdown cancels every queued and running item's context and stops the
// dispatch loop. Safe to call once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, cancel := range q.active {
		cancel()
	}
	q.mu.Unlock()
	close(q.stop)
}
