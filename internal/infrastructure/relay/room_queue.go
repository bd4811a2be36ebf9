package relay

import (
	"sync"

	"watchsync/internal/core/domain"
)

// roomQueues gives every room one ordered event queue drained by a single
// goroutine, so session-store mutations are serialized per room without
// locking room contents. A queue lives as long as at least one connection
// holds a reference to it.
type roomQueues struct {
	mu     sync.Mutex
	queues map[domain.RoomID]*roomQueue
}

type roomQueue struct {
	ch   chan func()
	refs int
	done chan struct{} // closed once the worker has drained and exited
}

func newRoomQueues() *roomQueues {
	return &roomQueues{queues: make(map[domain.RoomID]*roomQueue)}
}

// acquire takes a reference to the room's queue, starting its worker on
// first use. If the room's previous worker is still draining after its
// last release, acquire waits for it to exit before starting a fresh one,
// so no two workers ever mutate the same room concurrently.
func (q *roomQueues) acquire(roomID domain.RoomID) *roomQueue {
	for {
		q.mu.Lock()
		queue, ok := q.queues[roomID]
		if !ok {
			queue = &roomQueue{ch: make(chan func(), 64), done: make(chan struct{})}
			q.queues[roomID] = queue
			go q.drain(roomID, queue)
			queue.refs++
			q.mu.Unlock()
			return queue
		}
		if queue.refs > 0 {
			queue.refs++
			q.mu.Unlock()
			return queue
		}
		q.mu.Unlock()
		<-queue.done
	}
}

// release drops a reference; the last release tells the worker to exit
// once it has drained. The map entry stays until the worker is gone.
func (q *roomQueues) release(roomID domain.RoomID, queue *roomQueue) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue.refs--
	if queue.refs == 0 {
		close(queue.ch)
	}
}

// drain runs the room's tasks in order, then retires the queue. The entry
// is removed only here, after the final task has completed.
func (q *roomQueues) drain(roomID domain.RoomID, queue *roomQueue) {
	for fn := range queue.ch {
		fn()
	}

	q.mu.Lock()
	if q.queues[roomID] == queue {
		delete(q.queues, roomID)
	}
	q.mu.Unlock()
	close(queue.done)
}

// submit runs fn on the room's worker, blocking the caller's read loop if
// the queue is full. One inbound event is handled to completion before
// the next.
func (queue *roomQueue) submit(fn func()) {
	queue.ch <- fn
}
