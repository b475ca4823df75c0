package stimulus

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the queue size used when a non-positive capacity is given.
const DefaultCapacity = 100

// Queue is a bounded FIFO shared by any number of producers and a single
// draining consumer. When full, Push drops the incoming record: the oldest
// queued records are the ones retained.
type Queue struct {
	mu       sync.Mutex
	buf      []Record
	capacity int
	dropped  atomic.Uint64
	pushed   atomic.Uint64
}

// NewQueue returns an empty queue holding at most capacity records.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:      make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Push enqueues r without blocking. It reports false when the queue was full
// and r was discarded.
func (q *Queue) Push(r Record) bool {
	q.mu.Lock()
	if len(q.buf) >= q.capacity {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.buf = append(q.buf, r)
	q.mu.Unlock()
	q.pushed.Add(1)
	return true
}

// DrainAll removes and returns every queued record in FIFO order.
// It returns an empty, non-nil slice when nothing is queued.
func (q *Queue) DrainAll() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return []Record{}
	}
	out := q.buf
	q.buf = make([]Record, 0, q.capacity)
	return out
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many records were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Pushed returns how many records were accepted.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Pusher is the producer-side view of a Queue.
type Pusher interface {
	Push(Record) bool
}
