package server

import "testing"

func TestQueueFIFO(t *testing.T) {
	q := newEngineQueue(false)
	for i, key := range []uint64{3, 1, 2} {
		q.Push(engineMessage{key: key, timestamp: uint64(i)})
	}
	for _, expected := range []uint64{3, 1, 2} {
		if msg := q.Pop(); msg.key != expected {
			t.Errorf("popped key %d but expected %d", msg.key, expected)
		}
	}
}

func TestQueueScheduled(t *testing.T) {
	q := newEngineQueue(true)
	for i, key := range []uint64{3, 1, 2} {
		q.Push(engineMessage{key: key, timestamp: uint64(i)})
	}
	for _, expected := range []uint64{1, 2, 3} {
		if msg := q.Pop(); msg.key != expected {
			t.Errorf("popped key %d but expected %d", msg.key, expected)
		}
	}
}

func TestQueueScheduledKeyOrder(t *testing.T) {
	// Messages of one key keep their arrival order even
	// with scheduling enabled.
	q := newEngineQueue(true)
	ops := []engineOp{opCopyFirst, opSumRecv, opAllRecv}
	for i, op := range ops {
		q.Push(engineMessage{key: 5, op: op, timestamp: uint64(i)})
	}
	for _, expected := range ops {
		if msg := q.Pop(); msg.op != expected {
			t.Errorf("popped %v but expected %v", msg.op, expected)
		}
	}
}

func TestQueueTerminateDrainsLast(t *testing.T) {
	q := newEngineQueue(true)
	q.Push(engineMessage{op: opTerminate, timestamp: 0})
	q.Push(engineMessage{key: 5, op: opSumRecv, timestamp: 1})
	if msg := q.Pop(); msg.op != opSumRecv {
		t.Errorf("popped %v but expected the pending work first", msg.op)
	}
	if msg := q.Pop(); msg.op != opTerminate {
		t.Errorf("popped %v but expected TERMINATE", msg.op)
	}
}

func TestQueueBlockingPop(t *testing.T) {
	q := newEngineQueue(false)
	done := make(chan engineMessage, 1)
	go func() {
		done <- q.Pop()
	}()
	q.Push(engineMessage{key: 42})
	if msg := <-done; msg.key != 42 {
		t.Errorf("popped key %d but expected 42", msg.key)
	}
}
