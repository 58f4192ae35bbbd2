package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/safetyhub/internal/model"
)

const notifyQueueSize = 64

var errNotifyQueueFull = errors.New("notify queue full")

// notifyQueue hands events to a Notifier outside the hub locks while keeping
// per-subject order: each subject with pending events has exactly one worker.
type notifyQueue struct {
	notifier Notifier
	size     int

	mu      sync.Mutex
	pending map[string][]model.Event
	wg      sync.WaitGroup
}

func newNotifyQueue(n Notifier, size int) *notifyQueue {
	if size <= 0 {
		size = notifyQueueSize
	}
	return &notifyQueue{notifier: n, size: size, pending: make(map[string][]model.Event)}
}

// push queues ev for subjectID. A subject already holding size events drops it.
func (q *notifyQueue) push(subjectID string, ev model.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	queued, busy := q.pending[subjectID]
	if len(queued) >= q.size {
		return errNotifyQueueFull
	}
	q.pending[subjectID] = append(queued, ev)
	if !busy {
		q.wg.Add(1)
		go q.drain(subjectID)
	}
	return nil
}

// drain delivers subjectID's events in order and exits once the queue is empty.
// The map entry lives exactly as long as the worker.
func (q *notifyQueue) drain(subjectID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queued := q.pending[subjectID]
		if len(queued) == 0 {
			delete(q.pending, subjectID)
			q.mu.Unlock()
			return
		}
		ev := queued[0]
		q.pending[subjectID] = queued[1:]
		q.mu.Unlock()

		q.notifier.Notify(context.Background(), subjectID, ev)
	}
}

func (q *notifyQueue) wait() { q.wg.Wait() }
