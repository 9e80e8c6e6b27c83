package server

import (
	"github.com/unixpickle/essentials"

	"github.com/unixpickle/ps-server/compress"
	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

// engineLoop is one shard's worker. It pops messages in
// queue order, so for any key the COPY_FIRST, SUM_RECV...,
// ALL_RECV sequence of a step executes in program order.
func (s *Server) engineLoop(tid int) {
	defer s.wg.Done()
	q := s.queues[tid]
	for {
		msg := q.Pop()
		if msg.op == opTerminate {
			return
		}
		if msg.dst == nil || msg.src == nil {
			essentials.Die("engine message for key", msg.key, "has no buffers")
		}

		if comp := s.compressorFor(msg.key); comp != nil {
			if msg.op == opAllRecv {
				out := comp.Compress(compress.Tensor{
					Data:  msg.src[:msg.len],
					DType: msg.typ.DType,
				})
				upd := s.getUpdate(msg.key)
				upd.merged.data = out.Data
				upd.merged.len = len(out.Data)
				upd.merged.dtype = out.DType
			} else {
				// The incoming payload is compressed; swap
				// in the decompressed buffer before the
				// reduction below.
				compressedLen := msg.payload.Lens[0]
				if compressedLen > msg.len {
					essentials.Die("compressed payload for key", msg.key,
						"is larger than its declared length")
				}
				decompressed := comp.Decompress(compress.Tensor{
					Data:  msg.src[:compressedLen],
					DType: msg.typ.DType,
				})
				msg.src = decompressed.Data
				msg.len = len(decompressed.Data)
				msg.typ.DType = decompressed.DType
				// Already widened by the codec.
				msg.mixedPrecision = false
			}
		} else if msg.op == opAllRecv {
			upd := s.getUpdate(msg.key)
			if msg.mixedPrecision {
				// Cast down into low precision before
				// communication.
				shadow := s.getFP16Copy(msg.key)
				reduce.CopyDemote(shadow.data[:shadow.len], msg.src[:msg.len])
				upd.merged.data = shadow.data
				upd.merged.len = shadow.len
				upd.merged.dtype = shadow.dtype
			} else {
				upd.merged.data = msg.src
				upd.merged.len = msg.len
				upd.merged.dtype = msg.typ.DType
			}
		}

		isDebug := s.isDebugKey(msg.key)
		switch msg.op {
		case opCopyFirst:
			if isDebug {
				s.debugf("stage: ENGINE_COPY_MERGED_TO_STORE_BEFORE\tdst: %f\tsrc: %f",
					firstValue(msg.dst, msg.typ.DType), firstValue(msg.src, msg.typ.DType))
			}
			if msg.mixedPrecision {
				reduce.CopyPromote(msg.dst, msg.src[:msg.len])
			} else {
				reduce.Copy(msg.dst[:msg.len], msg.src[:msg.len])
			}
			if isDebug {
				s.debugf("stage: ENGINE_COPY_MERGED_TO_STORE_AFTER\tdst: %f\tsrc: %f",
					firstValue(msg.dst, msg.typ.DType), firstValue(msg.src, msg.typ.DType))
			}

		case opSumRecv:
			if isDebug {
				s.debugf("stage: ENGINE_SUM_RECV_BEFORE\tdst: %f\tsrc: %f",
					firstValue(msg.dst, msg.typ.DType), firstValue(msg.src, msg.typ.DType))
			}
			if msg.mixedPrecision {
				reduce.SumPromote(msg.dst, msg.src[:msg.len])
			} else {
				reduce.Sum(msg.dst[:msg.len], msg.src[:msg.len], msg.typ.DType, 1)
			}
			if isDebug {
				s.debugf("stage: ENGINE_SUM_RECV_AFTER\tdst: %f\tsrc: %f",
					firstValue(msg.dst, msg.typ.DType), firstValue(msg.src, msg.typ.DType))
			}

		case opAllRecv:
			s.releasePulls(tid, msg.key, msg.responder)

		default:
			essentials.Die("unexpected engine op:", msg.op)
		}
	}
}

// releasePulls marks the key's step as merged and answers
// every pull that was waiting on it. If all workers are
// answered the barrier resets for the next step.
func (s *Server) releasePulls(tid int, key uint64, r kvs.Responder) {
	f := s.flags[tid]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initKey(key)
	f.pushFinished[key] = true

	queue := f.pullQueue[key]
	for i := 0; i < len(queue); {
		sender := queue[i].Sender
		if !f.seenSender[key][sender] {
			s.sendPullResponse(key, queue[i], r)
			f.pullCnt[key]++
			f.seenSender[key][sender] = true
			essentials.OrderedDelete(&queue, i)
		} else {
			i++
		}
		if f.pullCnt[key] == s.conf.NumWorkers {
			f.resetKey(key)
			break
		}
	}
	f.pullQueue[key] = queue
}
