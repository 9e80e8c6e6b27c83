package server

import (
	"github.com/unixpickle/essentials"

	"github.com/unixpickle/ps-server/kvs"
)

// sendPushResponse acknowledges a push. The response pairs
// for a key are allocated once and reused on every later
// step so the transport never has to re-register the
// backing memory with RDMA hardware.
//
// Only the dispatcher sends push responses, so the cache
// is guarded by handleMu alone.
func (s *Server) sendPushResponse(key uint64, meta kvs.KVMeta, r kvs.Responder) {
	resp, ok := s.pushResp[key]
	if !ok {
		resp = &kvs.KVPairs{}
		s.pushResp[key] = resp
	}
	r.Response(meta, *resp)
}

// sendPullResponse answers a pull from the key's merged
// buffer. Like push responses, the pairs object for a key
// is built once; later steps only refresh the length and
// re-alias the value bytes, keeping the exposed backing
// address stable.
//
// Both the dispatcher and engine goroutines send pull
// responses; pullRespMu serializes them.
func (s *Server) sendPullResponse(key uint64, meta kvs.KVMeta, r kvs.Responder) {
	s.pullRespMu.Lock()
	defer s.pullRespMu.Unlock()
	upd := s.getUpdate(key)
	if upd.merged.data == nil {
		essentials.Die("init key", key, "first")
	}
	data := upd.merged.data[:upd.merged.len]
	resp, ok := s.pullResp[key]
	if !ok {
		resp = &kvs.KVPairs{
			Keys: []uint64{kvs.EncodeKey(key)},
			Lens: []int{upd.merged.len},
			Vals: data,
		}
		s.pullResp[key] = resp
	} else {
		resp.Lens[0] = upd.merged.len
		resp.Vals = data
	}
	r.Response(meta, *resp)
}
