package scheduler

import (
	"container/heap"

	"github.com/steveyegge/autoprog/internal/types"
)

// readyQueue is a min-heap of pending tasks ordered by priority, then builder
// sequence, then attempt.
type readyQueue []*types.Task

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Attempt != b.Attempt {
		return a.Attempt < b.Attempt
	}
	return a.ID < b.ID
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*types.Task)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

func newReadyQueue(ts []*types.Task) *readyQueue {
	q := make(readyQueue, 0, len(ts))
	q = append(q, ts...)
	heap.Init(&q)
	return &q
}

// drain pops every remaining task in order.
func (q *readyQueue) drain() []*types.Task {
	out := make([]*types.Task, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, heap.Pop(q).(*types.Task))
	}
	return out
}
