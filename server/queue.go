package server

import (
	"container/heap"
	"math"
	"sync"
)

// An engineQueue feeds one shard's engine goroutine. By
// default it is strictly FIFO; with scheduling enabled it
// favors lower keys, which belong to layers closer to the
// model output and unblock the next backward pass sooner.
//
// A key's priority is constant within a step, so the
// per-key COPY_FIRST, SUM_RECV..., ALL_RECV order is
// preserved either way.
type engineQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	scheduled bool
	msgs      msgHeap
}

func newEngineQueue(scheduled bool) *engineQueue {
	q := &engineQueue{scheduled: scheduled}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a message and wakes the engine.
func (q *engineQueue) Push(msg engineMessage) {
	if q.scheduled {
		if msg.op == opTerminate {
			// Drain remaining work first.
			msg.priority = math.MaxInt64
		} else {
			msg.priority = int64(msg.key)
		}
	}
	q.mu.Lock()
	heap.Push(&q.msgs, msg)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until a message is available.
func (q *engineQueue) Pop() engineMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.msgs) == 0 {
		q.cond.Wait()
	}
	return heap.Pop(&q.msgs).(engineMessage)
}

// msgHeap orders by (priority, timestamp). Unscheduled
// queues leave priority zero everywhere, which makes the
// heap a plain FIFO.
type msgHeap []engineMessage

func (m msgHeap) Len() int { return len(m) }

func (m msgHeap) Less(i, j int) bool {
	if m[i].priority != m[j].priority {
		return m[i].priority < m[j].priority
	}
	return m[i].timestamp < m[j].timestamp
}

func (m msgHeap) Swap(i, j int) { m[i], m[j] = m[j], m[i] }

func (m *msgHeap) Push(x interface{}) {
	*m = append(*m, x.(engineMessage))
}

func (m *msgHeap) Pop() interface{} {
	old := *m
	n := len(old)
	res := old[n-1]
	*m = old[:n-1]
	return res
}
