package server

import (
	"log"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
	"github.com/x448/float16"
)

// keyLogf logs push/pull traffic when PS_KEY_LOG is set.
func (s *Server) keyLogf(format string, args ...interface{}) {
	if s.conf.KeyLog {
		log.Printf(format, args...)
	}
}

func (s *Server) isDebugKey(key uint64) bool {
	return s.conf.Debug && s.conf.DebugKey == key
}

// debugf serializes verbose tracing so interleaved stages
// from different goroutines stay readable.
func (s *Server) debugf(format string, args ...interface{}) {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	log.Printf(format, args...)
}

// firstValue decodes the leading element of a buffer for
// debug dumps.
func firstValue(b []byte, dtype kvs.DataType) float64 {
	if len(b) < dtype.Size() {
		return 0
	}
	switch dtype {
	case kvs.Float32:
		return float64(reduce.Float32View(b)[0])
	case kvs.Float64:
		return reduce.Float64View(b)[0]
	case kvs.Float16:
		return float64(float16.Frombits(reduce.Uint16View(b)[0]).Float32())
	default:
		return float64(b[0])
	}
}
