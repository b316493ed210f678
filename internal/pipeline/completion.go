package pipeline

import (
	"fmt"
	"sync"
)

// CompletionQueue is the strict FIFO of in-flight requests. A request enters
// the queue only after its buffer was accepted by the hardware and leaves it
// exactly once, when the matching buffer completion arrives. Hardware
// completions come from the driver's notification context, so every access
// is serialized on the queue's own mutex.
type CompletionQueue struct {
	mu       sync.Mutex
	inflight []*Request
}

// Push appends a request to the in-flight list.
func (q *CompletionQueue) Push(r *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = append(q.inflight, r)
}

// Pop removes and returns the oldest in-flight request. An empty queue means
// the hardware delivered a completion nothing asked for; that is an ordering
// bug upstream and Pop panics with ErrProtocolViolation rather than dropping
// the event.
func (q *CompletionQueue) Pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.inflight) == 0 {
		panic(fmt.Errorf("%w: buffer completed with no request in flight", ErrProtocolViolation))
	}
	r := q.inflight[0]
	q.inflight = q.inflight[1:]
	return r
}

// Len returns the number of in-flight requests.
func (q *CompletionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Drain removes and returns all in-flight requests, oldest first. Used when
// streaming stops with work outstanding.
func (q *CompletionQueue) Drain() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.inflight
	q.inflight = nil
	return out
}
