package server

import (
	"os"
	"strconv"
)

// Config controls the server core. The zero value is not
// usable; fill it in by hand or via ConfigFromEnv.
type Config struct {
	// NumWorkers is the fixed number of worker processes
	// in the run. Every per-key barrier waits for exactly
	// this many pushes and pulls.
	NumWorkers int

	// EngineThreads is the number of shards (and engine
	// goroutines).
	EngineThreads int

	// Async disables the per-step barrier: pushes reduce
	// inline on the dispatcher and pulls do not wait for a
	// merge. Async pushes never set the merged buffer, so
	// a pull aborts with "init key N first" unless
	// EngineBlocking is also set.
	Async bool

	// EngineBlocking performs reductions and compression
	// on the dispatcher instead of the shard engines. It
	// is a legacy synchronous path kept for parity with
	// existing cluster configs.
	EngineBlocking bool

	// EnableSchedule orders each shard queue by key
	// priority instead of strict arrival order.
	EnableSchedule bool

	// LoadBalanceFactor scales the workload of compressed
	// keys when assigning shards, reflecting their higher
	// CPU cost.
	LoadBalanceFactor float64

	// Debug enables verbose per-stage tracing for the key
	// DebugKey.
	Debug    bool
	DebugKey uint64

	// KeyLog logs every push and pull.
	KeyLog bool
}

// ConfigFromEnv reads the configuration from the
// environment variables recognized by the server.
func ConfigFromEnv() Config {
	return Config{
		NumWorkers:        envInt("DMLC_NUM_WORKER", 1),
		EngineThreads:     envInt("BYTEPS_SERVER_ENGINE_THREAD", 4),
		Async:             envBool("BYTEPS_ENABLE_ASYNC"),
		EngineBlocking:    envBool("BYTEPS_SERVER_ENGINE_BLOCKING"),
		EnableSchedule:    envBool("BYTEPS_SERVER_ENABLE_SCHEDULE"),
		LoadBalanceFactor: envFloat("BYTEPS_SERVER_LOAD_BALANCE_FACTOR", 1),
		Debug:             envBool("BYTEPS_SERVER_DEBUG"),
		DebugKey:          uint64(envInt("BYTEPS_SERVER_DEBUG_KEY", 0)),
		KeyLog:            envBool("PS_KEY_LOG"),
	}
}

func envInt(name string, def int) int {
	if raw := os.Getenv(name); raw != "" {
		if x, err := strconv.Atoi(raw); err == nil {
			return x
		}
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if raw := os.Getenv(name); raw != "" {
		if x, err := strconv.ParseFloat(raw, 64); err == nil {
			return x
		}
	}
	return def
}

func envBool(name string) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return false
	}
	if x, err := strconv.Atoi(raw); err == nil {
		return x != 0
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return false
}
