// Package work provides the in-process coordination primitives that
// sit next to the record store: a FIFO queue of claimable work items
// and per-step gates that model steps waiting on external input.
//
// Both are in-memory and process-local. They carry no durability; a
// restarted process re-derives pending work by rehydrating its flows.
package work

import (
	"container/list"
	"sync"

	"github.com/cadmalab/flowstore/internal/docval"
	"github.com/cadmalab/flowstore/internal/flow"
)

// Queue is a FIFO of work items. Enqueue and Claim are safe from any
// goroutine.
type Queue struct {
	mu    sync.Mutex
	items list.List
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds an item to the back of the queue.
func (q *Queue) Enqueue(item flow.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(item)
}

// Claim removes and returns the oldest item, stamping it with the
// claiming worker's id. ok is false when the queue is empty.
func (q *Queue) Claim(workerID string) (flow.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return flow.WorkItem{}, false
	}
	q.items.Remove(front)

	item := front.Value.(flow.WorkItem)
	item.ClaimedBy = workerID
	return item, true
}

// Len returns the number of unclaimed items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type gateKey struct {
	flowID string
	stepID string
}

// Gates tracks per-step latches. A step whose gate is closed waits for
// external input; opening the gate signals the input has arrived.
// Gates are closed by default: a step never asked about is not open.
type Gates struct {
	mu    sync.Mutex
	open  map[gateKey]bool
	input map[gateKey]docval.Object
}

// NewGates creates an empty gate service.
func NewGates() *Gates {
	return &Gates{
		open:  make(map[gateKey]bool),
		input: make(map[gateKey]docval.Object),
	}
}

// Open opens the gate for a step, recording the input that unblocked
// it. A nil input opens the gate with nothing attached.
func (g *Gates) Open(flowID, stepID string, input docval.Object) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey{flowID, stepID}
	g.open[key] = true
	if input != nil {
		g.input[key] = input
	}
}

// Close closes the gate for a step, discarding any recorded input.
func (g *Gates) Close(flowID, stepID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey{flowID, stepID}
	g.open[key] = false
	delete(g.input, key)
}

// IsOpen reports whether the gate for a step is open.
func (g *Gates) IsOpen(flowID, stepID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[gateKey{flowID, stepID}]
}

// Input returns the input recorded when the gate was opened. ok is
// false when the gate is closed or was opened without input.
func (g *Gates) Input(flowID, stepID string) (docval.Object, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey{flowID, stepID}
	if !g.open[key] {
		return nil, false
	}
	input, ok := g.input[key]
	return input, ok
}
