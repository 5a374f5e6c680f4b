package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryWakeQueue is an in-process wake queue backed by a min-heap,
// used for tests and single-process deployments.
type MemoryWakeQueue struct {
	mu      sync.Mutex
	entries wakeHeap
	index   map[string]*wakeEntry
}

type wakeEntry struct {
	participantID string
	at            time.Time
	heapIndex     int
	removed       bool
}

func NewMemoryWakeQueue() *MemoryWakeQueue {
	return &MemoryWakeQueue{
		index: make(map[string]*wakeEntry),
	}
}

func (q *MemoryWakeQueue) Enqueue(_ context.Context, participantID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.index[participantID]; ok && !existing.removed {
		existing.at = at
		heap.Fix(&q.entries, existing.heapIndex)

		return nil
	}

	entry := &wakeEntry{participantID: participantID, at: at}
	q.index[participantID] = entry
	heap.Push(&q.entries, entry)

	return nil
}

func (q *MemoryWakeQueue) Due(_ context.Context, now time.Time, limit int) ([]Wake, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]Wake, 0)

	for q.entries.Len() > 0 && (limit <= 0 || len(due) < limit) {
		head := q.entries[0]
		if head.at.After(now) {
			break
		}

		heap.Pop(&q.entries)
		head.removed = true
		delete(q.index, head.participantID)

		due = append(due, Wake{ParticipantID: head.participantID, At: head.at})
	}

	return due, nil
}

func (q *MemoryWakeQueue) Close() error {
	return nil
}

// Len returns the number of pending wakes.
func (q *MemoryWakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.entries.Len()
}

type wakeHeap []*wakeEntry

func (h wakeHeap) Len() int { return len(h) }

func (h wakeHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *wakeHeap) Push(x any) {
	entry := x.(*wakeEntry)
	entry.heapIndex = len(*h)
	*h = append(*h, entry)
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return entry
}
