package server

import (
	"sync"

	"github.com/unixpickle/ps-server/compress"
	"github.com/unixpickle/ps-server/kvs"
)

// tensorBuf is a byte buffer with a logical length and an
// element dtype. For store and fp16-shadow entries, data
// is page-aligned and len is the unaligned logical size.
type tensorBuf struct {
	data  []byte
	len   int
	dtype kvs.DataType
}

// updateBuf is the per-key merge state for the current
// step.
type updateBuf struct {
	// merged is what pull responses expose. It is a
	// non-owning alias of the store, the fp16 shadow, or
	// the compressor's output buffer.
	merged tensorBuf

	// request buffers the push request metas of the
	// current step; its size never exceeds NumWorkers.
	request []kvs.KVMeta

	// tmpPayload retains the first incoming push payload
	// so its buffer stays alive until the merge completes.
	tmpPayload kvs.KVPairs
}

// shardFlags is the per-shard pull barrier state, guarded
// by its own mutex because both the dispatcher and the
// shard's engine goroutine touch it.
type shardFlags struct {
	mu           sync.Mutex
	pushFinished map[uint64]bool
	pullCnt      map[uint64]int
	seenSender   map[uint64]map[int]bool
	pullQueue    map[uint64][]kvs.KVMeta
}

func newShardFlags() *shardFlags {
	return &shardFlags{
		pushFinished: map[uint64]bool{},
		pullCnt:      map[uint64]int{},
		seenSender:   map[uint64]map[int]bool{},
		pullQueue:    map[uint64][]kvs.KVMeta{},
	}
}

// initKey makes sure the per-key fields exist. Callers
// must hold mu.
func (f *shardFlags) initKey(key uint64) {
	if _, ok := f.pushFinished[key]; !ok {
		f.pushFinished[key] = false
		f.pullCnt[key] = 0
		f.seenSender[key] = map[int]bool{}
	}
}

// resetKey clears the barrier for the next step. The three
// fields reset together and only together. Callers must
// hold mu.
func (f *shardFlags) resetKey(key uint64) {
	f.pushFinished[key] = false
	f.pullCnt[key] = 0
	f.seenSender[key] = map[int]bool{}
}

// getStore returns the store entry for a key, creating an
// empty one on first sight.
func (s *Server) getStore(key uint64) *tensorBuf {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	entry, ok := s.store[key]
	if !ok {
		entry = &tensorBuf{}
		s.store[key] = entry
	}
	return entry
}

// getUpdate returns the update buffer for a key, creating
// an empty one on first sight.
func (s *Server) getUpdate(key uint64) *updateBuf {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	entry, ok := s.updates[key]
	if !ok {
		entry = &updateBuf{}
		s.updates[key] = entry
	}
	return entry
}

// getFP16Copy returns the fp16 shadow entry for a key,
// creating an empty one on first sight.
func (s *Server) getFP16Copy(key uint64) *tensorBuf {
	s.fp16Mu.Lock()
	defer s.fp16Mu.Unlock()
	entry, ok := s.fp16Copy[key]
	if !ok {
		entry = &tensorBuf{}
		s.fp16Copy[key] = entry
	}
	return entry
}

func (s *Server) compressorFor(key uint64) compress.Compressor {
	s.compMu.Lock()
	defer s.compMu.Unlock()
	return s.compressors[key]
}

func (s *Server) setCompressor(key uint64, c compress.Compressor) {
	s.compMu.Lock()
	defer s.compMu.Unlock()
	s.compressors[key] = c
}

// shardOf pins a key to a shard. The first time a key is
// seen it goes to the shard with the least accumulated
// load (lowest index on ties) and adds its workload there;
// afterwards the cached assignment is returned so a key's
// messages stay ordered on one queue for the whole run.
func (s *Server) shardOf(key uint64, workload float64) int {
	if tid, ok := s.keyShard[key]; ok {
		return tid
	}
	tid := 0
	for i, load := range s.accLoad {
		if load < s.accLoad[tid] {
			tid = i
		}
	}
	s.accLoad[tid] += workload
	s.keyShard[key] = tid
	return tid
}
