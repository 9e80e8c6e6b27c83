package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
	"github.com/unixpickle/ps-server/server"
)

// RunInfo describes a specific server configuration.
type RunInfo struct {
	NumWorkers    int
	EngineThreads int
	NumKeys       int
	TensorBytes   int
}

// loopback delivers responses back to the benchmark
// in-process, standing in for the RPC transport.
type loopback struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

func newLoopback() *loopback {
	l := &loopback{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *loopback) Response(meta kvs.KVMeta, pairs kvs.KVPairs) {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *loopback) waitFor(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.count < n {
		l.cond.Wait()
	}
}

// Run drives numSteps synchronous steps over every key and
// returns the elapsed wall-clock time.
func (r *RunInfo) Run(numSteps int) time.Duration {
	s := server.New(server.Config{
		NumWorkers:    r.NumWorkers,
		EngineThreads: r.EngineThreads,
	})
	defer s.Shutdown()
	lb := newLoopback()

	cmd := kvs.PairDataHandleType(kvs.DataHandleType{
		RequestType: kvs.DefaultPushPull,
		DType:       kvs.Float32,
	})

	grads := make([][][]byte, r.NumWorkers)
	for w := range grads {
		grads[w] = make([][]byte, r.NumKeys)
		for key := range grads[w] {
			buf := make([]byte, r.TensorBytes)
			vals := reduce.Float32View(buf)
			for i := range vals {
				vals[i] = float32(w + key + i)
			}
			grads[w][key] = buf
		}
	}

	push := func(worker int, key uint64, buf []byte) {
		s.Handle(kvs.KVMeta{Cmd: cmd, Push: true, Sender: worker}, kvs.KVPairs{
			Keys: []uint64{key},
			Lens: []int{len(buf)},
			Vals: buf,
		}, lb)
	}
	pull := func(worker int, key uint64) {
		s.Handle(kvs.KVMeta{Cmd: cmd, Sender: worker}, kvs.KVPairs{
			Keys: []uint64{key},
		}, lb)
	}

	// Init round.
	for key := 0; key < r.NumKeys; key++ {
		for w := 0; w < r.NumWorkers; w++ {
			push(w, uint64(key), make([]byte, r.TensorBytes))
		}
	}
	lb.waitFor(r.NumKeys * r.NumWorkers)

	responses := r.NumKeys * r.NumWorkers
	start := time.Now()
	for step := 0; step < numSteps; step++ {
		for key := 0; key < r.NumKeys; key++ {
			for w := 0; w < r.NumWorkers; w++ {
				push(w, uint64(key), grads[w][key])
			}
		}
		for key := 0; key < r.NumKeys; key++ {
			for w := 0; w < r.NumWorkers; w++ {
				pull(w, uint64(key))
			}
		}
		responses += 2 * r.NumKeys * r.NumWorkers
		lb.waitFor(responses)
	}
	return time.Since(start)
}

func main() {
	const numSteps = 20
	runs := []RunInfo{
		{NumWorkers: 2, EngineThreads: 1, NumKeys: 16, TensorBytes: 1 << 10},
		{NumWorkers: 2, EngineThreads: 4, NumKeys: 16, TensorBytes: 1 << 10},
		{NumWorkers: 4, EngineThreads: 4, NumKeys: 64, TensorBytes: 1 << 16},
		{NumWorkers: 8, EngineThreads: 4, NumKeys: 64, TensorBytes: 1 << 16},
		{NumWorkers: 8, EngineThreads: 8, NumKeys: 256, TensorBytes: 1 << 20},
	}

	fmt.Printf("run id: %s\n\n", uuid.New())
	fmt.Println("| Workers | Engines | Keys | Bytes | Steps/sec |")
	fmt.Println("|:--|:--|:--|:--|:--|")
	for _, run := range runs {
		elapsed := run.Run(numSteps)
		fmt.Printf(
			"| %d | %d | %d | %d | %.2f |\n",
			run.NumWorkers,
			run.EngineThreads,
			run.NumKeys,
			run.TensorBytes,
			float64(numSteps)/elapsed.Seconds(),
		)
	}
}
