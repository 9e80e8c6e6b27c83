package kvs

import (
	"fmt"
	"testing"
)

func TestPairDataHandleType(t *testing.T) {
	requestTypes := []RequestType{
		ConfigPushPull,
		DefaultPushPull,
		CompressedPushPull,
		RowSparsePushPull,
	}
	dataTypes := []DataType{
		Float32, Float64, Float16, Uint8, Int32, Int8, Int64,
	}
	seen := map[int]bool{}
	for _, rt := range requestTypes {
		for _, dt := range dataTypes {
			name := fmt.Sprintf("Request=%v,DType=%v", rt, dt)
			t.Run(name, func(t *testing.T) {
				in := DataHandleType{RequestType: rt, DType: dt}
				cmd := PairDataHandleType(in)
				if seen[cmd] {
					t.Errorf("cmd %d is not unique", cmd)
				}
				seen[cmd] = true
				out := DepairDataHandleType(cmd)
				if out != in {
					t.Errorf("depair gave %v but expected %v", out, in)
				}
			})
		}
	}
}

func TestDataTypeSize(t *testing.T) {
	sizes := map[DataType]int{
		Float32: 4,
		Float64: 8,
		Float16: 2,
		Uint8:   1,
		Int32:   4,
		Int8:    1,
		Int64:   8,
	}
	for dt, size := range sizes {
		if dt.Size() != size {
			t.Errorf("dtype %v has size %d but expected %d", dt, dt.Size(), size)
		}
	}
}

func TestKeyCodec(t *testing.T) {
	for _, key := range []uint64{0, 1, 1337, 1 << 40} {
		if DecodeKey(EncodeKey(key)) != key {
			t.Errorf("key %d does not round trip", key)
		}
	}
}
