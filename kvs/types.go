package kvs

import (
	"fmt"
	"math"
)

// A RequestType selects which handler family a request is
// routed to.
type RequestType int

const (
	ConfigPushPull RequestType = iota
	DefaultPushPull
	CompressedPushPull
	RowSparsePushPull
)

func (r RequestType) String() string {
	switch r {
	case ConfigPushPull:
		return "config"
	case DefaultPushPull:
		return "default"
	case CompressedPushPull:
		return "compressed"
	case RowSparsePushPull:
		return "row_sparse"
	}
	return fmt.Sprintf("RequestType(%d)", int(r))
}

// A DataType tags the element type of a tensor buffer.
type DataType int

const (
	Float32 DataType = iota
	Float64
	Float16
	Uint8
	Int32
	Int8
	Int64
)

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Float16:
		return 2
	case Uint8, Int8:
		return 1
	}
	panic(fmt.Sprintf("unsupported data type: %d", int(d)))
}

func (d DataType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int8:
		return "int8"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// A DataHandleType is the (request type, dtype) pair packed
// into KVMeta.Cmd.
type DataHandleType struct {
	RequestType RequestType
	DType       DataType
}

// PairDataHandleType packs a DataHandleType into a single
// command integer using the Cantor pairing function.
func PairDataHandleType(t DataHandleType) int {
	x := int(t.RequestType)
	y := int(t.DType)
	return (x+y)*(x+y+1)/2 + y
}

// DepairDataHandleType is the inverse of
// PairDataHandleType.
func DepairDataHandleType(cmd int) DataHandleType {
	w := int(math.Floor((math.Sqrt(float64(8*cmd+1)) - 1) / 2))
	t := (w*w + w) / 2
	y := cmd - t
	x := w - y
	return DataHandleType{
		RequestType: RequestType(x),
		DType:       DataType(y),
	}
}
