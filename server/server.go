// Package server implements the aggregation core of a
// synchronous distributed training parameter server: it
// accepts push/pull requests carrying gradient tensors
// from a fixed set of workers, merges per-key gradients
// across all workers within a step on a set of sharded
// engine goroutines, optionally (de)compresses them, and
// answers pulls with the merged tensor once the per-key
// push barrier completes.
package server

import (
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/unixpickle/essentials"

	"github.com/unixpickle/ps-server/compress"
	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

// A Server owns every piece of per-run state: the per-key
// maps, the shard queues and their engine goroutines, and
// the response caches. Nothing is package-global; the
// transport holds one Server per process and feeds it
// through Handle.
type Server struct {
	conf Config
	id   uuid.UUID

	// handleMu serializes Handle; push and pull race on
	// the shared maps.
	handleMu  sync.Mutex
	timestamp uint64

	storeMu sync.Mutex
	store   map[uint64]*tensorBuf

	updateMu sync.Mutex
	updates  map[uint64]*updateBuf

	fp16Mu   sync.Mutex
	fp16Copy map[uint64]*tensorBuf

	compMu      sync.Mutex
	compressors map[uint64]compress.Compressor

	pushResp   map[uint64]*kvs.KVPairs
	pullRespMu sync.Mutex
	pullResp   map[uint64]*kvs.KVPairs

	keyShard map[uint64]int
	accLoad  []float64

	queues []*engineQueue
	flags  []*shardFlags
	wg     sync.WaitGroup

	debugMu sync.Mutex
}

// New creates a server and starts its engine goroutines.
// Call Shutdown when the run is over.
func New(conf Config) *Server {
	if conf.NumWorkers < 1 {
		essentials.Die("server needs at least 1 worker, got", conf.NumWorkers)
	}
	if conf.EngineThreads < 1 {
		essentials.Die("server needs at least 1 engine thread, got", conf.EngineThreads)
	}
	if conf.LoadBalanceFactor <= 0 {
		conf.LoadBalanceFactor = 1
	}

	s := &Server{
		conf:        conf,
		id:          uuid.New(),
		store:       map[uint64]*tensorBuf{},
		updates:     map[uint64]*updateBuf{},
		fp16Copy:    map[uint64]*tensorBuf{},
		compressors: map[uint64]compress.Compressor{},
		pushResp:    map[uint64]*kvs.KVPairs{},
		pullResp:    map[uint64]*kvs.KVPairs{},
		keyShard:    map[uint64]int{},
		accLoad:     make([]float64, conf.EngineThreads),
	}

	if !conf.Async {
		for i := 0; i < conf.EngineThreads; i++ {
			s.queues = append(s.queues, newEngineQueue(conf.EnableSchedule))
			s.flags = append(s.flags, newShardFlags())
		}
		for i := range s.queues {
			s.wg.Add(1)
			go s.engineLoop(i)
		}
	}

	log.Printf("server %s: %d engine threads, %d workers", s.id, conf.EngineThreads,
		conf.NumWorkers)
	if conf.Async {
		log.Printf("server %s: asynchronous training enabled", s.id)
	}
	if conf.EngineBlocking {
		log.Printf("server %s: blocking engine mode enabled", s.id)
	}
	if conf.EnableSchedule {
		log.Printf("server %s: engine scheduling enabled", s.id)
	}
	if conf.Debug {
		log.Printf("server %s: debug mode enabled, printing key %d", s.id, conf.DebugKey)
	}
	return s
}

// enqueue stamps a message and pushes it to a shard.
// Callers must hold handleMu so timestamps stay strictly
// increasing.
func (s *Server) enqueue(tid int, msg engineMessage) {
	msg.timestamp = s.timestamp
	s.timestamp++
	s.queues[tid].Push(msg)
}

// Shutdown terminates the engine goroutines, waits for
// them, and frees every store and fp16-shadow buffer. The
// transport must be finalized first so no pull response is
// still referencing the buffers.
func (s *Server) Shutdown() {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	for _, q := range s.queues {
		msg := engineMessage{op: opTerminate, timestamp: s.timestamp}
		s.timestamp++
		q.Push(msg)
	}
	s.wg.Wait()
	s.queues = nil

	s.compMu.Lock()
	for key, comp := range s.compressors {
		if closer, ok := comp.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("server %s: close compressor for key %d: %v", s.id, key, err)
			}
		}
	}
	s.compressors = map[uint64]compress.Compressor{}
	s.compMu.Unlock()

	s.storeMu.Lock()
	for _, entry := range s.store {
		if entry.data != nil {
			essentials.Must(reduce.FreeAligned(entry.data))
		}
	}
	s.store = map[uint64]*tensorBuf{}
	s.storeMu.Unlock()

	s.fp16Mu.Lock()
	for _, entry := range s.fp16Copy {
		if entry.data != nil {
			essentials.Must(reduce.FreeAligned(entry.data))
		}
	}
	s.fp16Copy = map[uint64]*tensorBuf{}
	s.fp16Mu.Unlock()

	log.Printf("server %s has been shut down", s.id)
}
