package server

import "github.com/unixpickle/ps-server/kvs"

type engineOp int

const (
	opCopyFirst engineOp = iota
	opSumRecv
	opAllRecv
	opTerminate
)

func (o engineOp) String() string {
	switch o {
	case opCopyFirst:
		return "COPY_FIRST"
	case opSumRecv:
		return "SUM_RECV"
	case opAllRecv:
		return "ALL_RECV"
	case opTerminate:
		return "TERMINATE"
	}
	return "UNKNOWN"
}

// engineMessage is one unit of work on a shard queue.
type engineMessage struct {
	// timestamp orders messages within a queue; it is
	// assigned by the dispatcher and strictly increasing.
	timestamp uint64

	// priority is only meaningful on scheduled queues;
	// smaller pops first.
	priority int64

	typ kvs.DataHandleType
	key uint64
	dst []byte
	src []byte
	len int
	op  engineOp

	// payload retains the request's KVPairs so the source
	// buffer stays alive until the reduction ran, and
	// carries the compressed length for the decompress
	// branch.
	payload kvs.KVPairs
	meta    kvs.KVMeta

	mixedPrecision bool
	responder      kvs.Responder
}
