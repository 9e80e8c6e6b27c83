package server

import (
	"github.com/unixpickle/essentials"

	"github.com/unixpickle/ps-server/compress"
	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

// Handle is the single entry point invoked by the
// transport for every push and pull. Push and pull race on
// the shared per-key maps, so the whole handler runs under
// one mutex. Outside async and engine-blocking modes, all
// heavy lifting is enqueued to the shard engines.
func (s *Server) Handle(meta kvs.KVMeta, pairs kvs.KVPairs, r kvs.Responder) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if len(pairs.Keys) != 1 {
		essentials.Die("request carries", len(pairs.Keys), "keys but expected 1")
	}
	key := kvs.DecodeKey(pairs.Keys[0])
	if meta.Push {
		if len(pairs.Lens) != 1 {
			essentials.Die("push for key", key, "carries", len(pairs.Lens),
				"lens but expected 1")
		}
		if len(pairs.Vals) != pairs.Lens[0] {
			essentials.Die("push for key", key, "carries", len(pairs.Vals),
				"bytes but declares", pairs.Lens[0])
		}
		s.keyLogf("push key=%d\tsender=%d\tsize=%d", key, meta.Sender, pairs.Lens[0])
	} else {
		s.keyLogf("pull key=%d\tsender=%d", key, meta.Sender)
	}

	t := kvs.DepairDataHandleType(meta.Cmd)
	switch t.RequestType {
	case kvs.ConfigPushPull:
		s.handleConfig(key, meta, pairs, r)
	case kvs.DefaultPushPull, kvs.CompressedPushPull:
		s.handleDefault(key, t, meta, pairs, r)
	case kvs.RowSparsePushPull:
		essentials.Die("row-sparse push/pull is not implemented")
	default:
		essentials.Die("unrecognized request type:", int(t.RequestType))
	}
}

// handleConfig registers the key's compressor from a
// serialized kwargs blob. Responses are held back until
// all workers' config pushes arrived, so no worker starts
// compressed pushes before the server can decode them.
func (s *Server) handleConfig(key uint64, meta kvs.KVMeta, pairs kvs.KVPairs, r kvs.Responder) {
	if s.compressorFor(key) == nil {
		kw, err := compress.Deserialize(string(pairs.Vals[:pairs.Lens[0]]))
		if err != nil {
			essentials.Die("parse compressor config for key", key, "-", err)
		}
		stored := s.getStore(key)
		comp, err := compress.Create(kw, reduce.Align(stored.len), stored.dtype)
		if err != nil {
			essentials.Die("create compressor for key", key, "-", err)
		}
		s.setCompressor(key, comp)
		s.keyLogf("register compressor for key=%d", key)
	}

	upd := s.getUpdate(key)
	upd.request = append(upd.request, meta)
	if len(upd.request) < s.conf.NumWorkers {
		return
	}
	for _, req := range upd.request {
		s.sendPushResponse(key, req, r)
	}
	upd.request = upd.request[:0]
}

func (s *Server) handleDefault(key uint64, t kvs.DataHandleType, meta kvs.KVMeta,
	pairs kvs.KVPairs, r kvs.Responder) {
	stored := s.getStore(key)
	mixed := t.DType == kvs.Float16
	if meta.Push {
		if stored.data == nil {
			s.handleInit(key, t, pairs.Lens[0], stored, meta, r, mixed)
		} else {
			s.handlePush(key, t, pairs.Lens[0], stored, meta, pairs, r, mixed)
		}
	} else {
		s.handlePull(key, stored, meta, r)
	}
}

// handleInit allocates the store on the first pushes for a
// key. The response is deferred until every worker's init
// push arrived, which guarantees each worker observes a
// live store before its next request.
func (s *Server) handleInit(key uint64, t kvs.DataHandleType, length int,
	stored *tensorBuf, meta kvs.KVMeta, r kvs.Responder, mixed bool) {
	if !s.conf.Async {
		if upd := s.getUpdate(key); upd.merged.len == 0 {
			upd.merged.len = length
			upd.merged.dtype = t.DType
		}
	}
	upd := s.getUpdate(key)
	upd.request = append(upd.request, meta)
	if len(upd.request) < s.conf.NumWorkers {
		return
	}
	s.keyLogf("collected all %d requests for key=%d, init the store buffer size=%d",
		len(upd.request), key, length)

	dtype := t.DType
	storeLen := length
	if mixed {
		shadow := s.getFP16Copy(key)
		buf, err := reduce.AllocAligned(length)
		if err != nil {
			essentials.Die("allocate fp16 shadow for key", key, "-", err)
		}
		shadow.data = buf
		shadow.len = length
		shadow.dtype = kvs.Float16
		// Aggregate in fp32.
		storeLen = 2 * length
		dtype = kvs.Float32
	}

	buf, err := reduce.AllocAligned(storeLen)
	if err != nil {
		essentials.Die("allocate store for key", key, "-", err)
	}
	stored.data = buf
	stored.len = storeLen
	stored.dtype = dtype

	if s.conf.EngineBlocking {
		// The blocking path reduces straight into the
		// store, so merged can alias it from the start.
		upd.merged.data = stored.data
		upd.merged.len = stored.len
		upd.merged.dtype = stored.dtype
	}

	for _, req := range upd.request {
		s.sendPushResponse(key, req, r)
	}
	upd.request = upd.request[:0]
}

func (s *Server) handlePush(key uint64, t kvs.DataHandleType, length int,
	stored *tensorBuf, meta kvs.KVMeta, pairs kvs.KVPairs, r kvs.Responder, mixed bool) {
	upd := s.getUpdate(key)
	recved := pairs.Vals[:length]
	comp := s.compressorFor(key)

	if comp == nil {
		expected := stored.len
		if mixed {
			expected = stored.len / 2
		}
		if length != expected {
			essentials.Die("push for key", key, "carries", length,
				"bytes but the store was initialized with", expected)
		}
	}

	workload := float64(stored.len)
	if comp != nil {
		workload *= s.conf.LoadBalanceFactor
	}
	tid := s.shardOf(key, workload)

	if len(upd.request) == 0 {
		// First worker of the step.
		switch {
		case s.conf.Async:
			if mixed {
				reduce.SumPromote(stored.data[:stored.len], recved)
			} else {
				reduce.Sum(stored.data[:length], recved, stored.dtype, 1)
			}
		case s.conf.EngineBlocking:
			s.blockingReduce(key, t, stored, recved, mixed, true)
		default:
			if s.isDebugKey(key) {
				s.debugf("stage: COPY_FIRST\tstored: %f\trecved: %f\tlen: %d",
					firstValue(stored.data, stored.dtype),
					firstValue(recved, t.DType), length)
			}
			upd.tmpPayload = pairs
			s.enqueue(tid, engineMessage{
				typ:            t,
				key:            key,
				dst:            stored.data,
				src:            recved,
				len:            length,
				op:             opCopyFirst,
				payload:        pairs,
				meta:           meta,
				mixedPrecision: mixed,
				responder:      r,
			})
		}
	} else {
		// Workers 2..W of the step.
		if s.conf.Async {
			essentials.Die("async push for key", key, "found a pending request buffer")
		}
		if s.isDebugKey(key) {
			s.debugf("stage: OTHER_WORKER_SUM\tstored: %f\trecved: %f\tlen: %d",
				firstValue(stored.data, stored.dtype),
				firstValue(recved, t.DType), length)
		}
		if s.conf.EngineBlocking {
			s.blockingReduce(key, t, stored, recved, mixed, false)
		} else {
			s.enqueue(tid, engineMessage{
				typ:            t,
				key:            key,
				dst:            stored.data,
				src:            recved,
				len:            length,
				op:             opSumRecv,
				payload:        pairs,
				meta:           meta,
				mixedPrecision: mixed,
				responder:      r,
			})
		}
	}

	// The push acknowledgement is independent of merge
	// completion.
	upd.request = append(upd.request, meta)
	s.sendPushResponse(key, meta, r)

	if !s.conf.Async && len(upd.request) == s.conf.NumWorkers {
		if s.isDebugKey(key) {
			s.debugf("stage: ALL_RECV\tstored: %f\trecved: %f",
				firstValue(stored.data, stored.dtype), firstValue(recved, t.DType))
		}
		if s.conf.EngineBlocking {
			s.blockingFinalize(key, stored, mixed)
		} else {
			s.enqueue(tid, engineMessage{
				typ:            kvs.DataHandleType{RequestType: t.RequestType, DType: stored.dtype},
				key:            key,
				dst:            stored.data,
				src:            stored.data,
				len:            stored.len,
				op:             opAllRecv,
				payload:        pairs,
				meta:           meta,
				mixedPrecision: mixed,
				responder:      r,
			})
		}
		upd.request = upd.request[:0]
	} else if s.conf.Async {
		// No barrier in async mode: the request buffer is
		// cleared on every push.
		upd.request = upd.request[:0]
	}
}

// blockingReduce is the engine-blocking inline reduction:
// decompress if needed, then copy or sum on the dispatcher
// thread.
func (s *Server) blockingReduce(key uint64, t kvs.DataHandleType, stored *tensorBuf,
	recved []byte, mixed, first bool) {
	src := recved
	dtype := t.DType
	if comp := s.compressorFor(key); comp != nil {
		decompressed := comp.Decompress(compress.Tensor{Data: recved, DType: dtype})
		src = decompressed.Data
		dtype = decompressed.DType
		mixed = false
	}
	switch {
	case first && mixed:
		reduce.CopyPromote(stored.data, src)
	case first:
		reduce.Copy(stored.data[:len(src)], src)
	case mixed:
		reduce.SumPromote(stored.data, src)
	default:
		reduce.Sum(stored.data[:len(src)], src, dtype, 1)
	}
}

// blockingFinalize is the engine-blocking version of the
// ALL_RECV finalization: compress or downcast on the
// dispatcher thread and repoint merged.
func (s *Server) blockingFinalize(key uint64, stored *tensorBuf, mixed bool) {
	upd := s.getUpdate(key)
	if comp := s.compressorFor(key); comp != nil {
		out := comp.Compress(compress.Tensor{
			Data:  stored.data[:stored.len],
			DType: stored.dtype,
		})
		upd.merged.data = out.Data
		upd.merged.len = len(out.Data)
		upd.merged.dtype = out.DType
	} else if mixed {
		shadow := s.getFP16Copy(key)
		reduce.CopyDemote(shadow.data[:shadow.len], stored.data[:stored.len])
		upd.merged.data = shadow.data
		upd.merged.len = shadow.len
		upd.merged.dtype = shadow.dtype
	} else {
		upd.merged.data = stored.data
		upd.merged.len = stored.len
		upd.merged.dtype = stored.dtype
	}
}

// handlePull answers immediately when the step's merge is
// done (or when no barrier applies), and queues the
// request for the engine otherwise.
func (s *Server) handlePull(key uint64, stored *tensorBuf, meta kvs.KVMeta, r kvs.Responder) {
	if stored.data == nil {
		essentials.Die("should init the buffer for key", key, "first")
	}
	if s.conf.EngineBlocking || s.conf.Async {
		s.sendPullResponse(key, meta, r)
		return
	}

	tid := s.shardOf(key, 0)
	f := s.flags[tid]
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initKey(key)

	if f.pushFinished[key] && !f.seenSender[key][meta.Sender] {
		// Push already finished and this sender has not
		// received its response yet.
		s.sendPullResponse(key, meta, r)
		f.pullCnt[key]++
		f.seenSender[key][meta.Sender] = true
		if f.pullCnt[key] == s.conf.NumWorkers {
			f.resetKey(key)
		}
	} else {
		// Wait for the engine to finish the merge.
		f.pullQueue[key] = append(f.pullQueue[key], meta)
	}
}
