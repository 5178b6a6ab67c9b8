package workerpool

import "sync"

// queue is an unbounded FIFO of task entries. A nil entry is the shutdown
// sentinel; each worker exits after popping one.
type queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*entry
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(e *entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an entry is available
func (q *queue) pop() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}

	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.items {
		if e != nil {
			n++
		}
	}
	return n
}
