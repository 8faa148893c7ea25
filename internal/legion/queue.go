package legion

import "sync"

// minionQueue is the per-minion FIFO of comms awaiting delivery to the
// session runtime. The pump lock guarantees a single consumer per minion,
// which is what keeps delivery order FIFO.
type minionQueue struct {
	minionID string
	pending  []*Comm
	mu       sync.Mutex
	locked   bool
}

func newMinionQueue(minionID string) *minionQueue {
	return &minionQueue{minionID: minionID}
}

func (q *minionQueue) Enqueue(c *Comm) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, c)
}

func (q *minionQueue) Dequeue() (*Comm, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}

	c := q.pending[0]
	q.pending = q.pending[1:]
	return c, true
}

// Clear discards all pending comms and returns how many were dropped.
func (q *minionQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

func (q *minionQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

func (q *minionQueue) Unlock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.locked = false
}

func (q *minionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
