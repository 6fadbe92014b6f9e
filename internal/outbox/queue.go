// Package outbox holds relay frames that could not be sent and re-sends
// them when the connection comes back. The queue lives in memory only.
package outbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds how many times a queued frame is retried.
const DefaultMaxAttempts = 3

// Entry is one queued frame.
type Entry struct {
	ID         string
	Event      string
	Ref        string
	Payload    any
	Attempts   int
	EnqueuedAt time.Time
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Sent     []Entry
	Retained int
	Dropped  []Entry
}

// Queue is a FIFO of frames awaiting retry.
type Queue struct {
	mu          sync.Mutex
	entries     []Entry
	maxAttempts int
	now         func() time.Time
}

// NewQueue creates a queue. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewQueue(maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{maxAttempts: maxAttempts, now: time.Now}
}

// Enqueue appends a frame. ref identifies the message it concerns.
func (q *Queue) Enqueue(event, ref string, payload any) string {
	id := uuid.NewString()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, Entry{
		ID:         id,
		Event:      event,
		Ref:        ref,
		Payload:    payload,
		EnqueuedAt: q.now(),
	})
	return id
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a copy of the queued frames in order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Drain tries every queued frame once, in order. Frames whose send fails
// stay queued until they have used maxAttempts tries, then they are dropped.
// send must not call back into the queue.
func (q *Queue) Drain(send func(Entry) bool) DrainResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res DrainResult
	kept := q.entries[:0]
	for _, e := range q.entries {
		e.Attempts++
		if send(e) {
			res.Sent = append(res.Sent, e)
			continue
		}
		if e.Attempts >= q.maxAttempts {
			res.Dropped = append(res.Dropped, e)
			continue
		}
		kept = append(kept, e)
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	res.Retained = len(kept)
	return res
}

// Clear drops every queued frame and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	return n
}

// Remove drops the frames that reference ref, e.g. when the message they
// concern was deleted.
func (q *Queue) Remove(ref string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Ref != ref {
			kept = append(kept, e)
		}
	}
	n := len(q.entries) - len(kept)
	clear(q.entries[len(kept):])
	q.entries = kept
	return n
}
