package dispatcher

import (
	"encoding/json"
	"fmt"
	"math"
)

// ArgString returns args[i] as a string.
func ArgString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, args[i])
	}
	return s, nil
}

// ArgInt returns args[i] as an int. JSON numbers decode as float64 and CBOR
// integers as uint64/int64; all are accepted when integral.
func ArgInt(args []interface{}, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("argument %d: %d overflows int", i, v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("argument %d: %v is not an integer", i, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %d: %w", i, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %d: expected number, got %T", i, args[i])
	}
}

// ArgFloat returns args[i] as a float64.
func ArgFloat(args []interface{}, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("argument %d: expected number, got %T", i, args[i])
	}
}
