package compress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kwargs holds the hyper-parameters of a compressor as
// they arrive in a config push.
type Kwargs map[string]string

// Serialize encodes kwargs in the config wire format:
// "<count> <k1> <v1> <k2> <v2> ...".
func Serialize(kw Kwargs) string {
	parts := []string{strconv.Itoa(len(kw))}
	for k, v := range kw {
		parts = append(parts, k, v)
	}
	return strings.Join(parts, " ")
}

// Deserialize decodes the config wire format produced by
// Serialize.
func Deserialize(content string) (Kwargs, error) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return nil, errors.New("kwargs blob is empty")
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid kwargs count %q", fields[0])
	}
	if len(fields) != 1+2*count {
		return nil, errors.Errorf("kwargs blob declares %d entries but carries %d fields",
			count, len(fields)-1)
	}
	kw := Kwargs{}
	for i := 0; i < count; i++ {
		kw[fields[1+2*i]] = fields[2+2*i]
	}
	return kw, nil
}

func findParam[T any](kw Kwargs, name string, optional bool,
	parse func(string) (T, error), check func(T) bool) (T, error) {
	var value T
	raw, ok := kw[name]
	if !ok {
		if optional {
			return value, nil
		}
		return value, errors.Errorf("hyper-parameter %q is not found", name)
	}
	value, err := parse(raw)
	if err != nil {
		return value, errors.Wrapf(err, "hyper-parameter %q", name)
	}
	if check != nil && !check(value) {
		return value, errors.Errorf("hyper-parameter %q should not be %v", name, value)
	}
	return value, nil
}

// FindFloat reads a float hyper-parameter. Missing
// optional parameters yield the zero value; missing
// required parameters are an error. A non-nil check
// rejects out-of-range values.
func FindFloat(kw Kwargs, name string, optional bool, check func(float64) bool) (float64, error) {
	return findParam(kw, name, optional, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}, check)
}

// FindInt is FindFloat for integer hyper-parameters.
func FindInt(kw Kwargs, name string, optional bool, check func(int) bool) (int, error) {
	return findParam(kw, name, optional, strconv.Atoi, check)
}

// FindBool reads a boolean hyper-parameter serialized as
// "true" or "false".
func FindBool(kw Kwargs, name string, optional bool) (bool, error) {
	return findParam(kw, name, optional, func(s string) (bool, error) {
		switch s {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", s)
	}, nil)
}
