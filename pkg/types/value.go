package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// FormatValue renders a scalar value as the string used for ids, routing and
// partition names. The second return value is false for NULL.
func FormatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e21 {
			return strconv.FormatFloat(x, 'f', -1, 64), true
		}
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case json.Number:
		return x.String(), true
	case time.Time:
		return strconv.FormatInt(x.UnixMilli(), 10), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprintf("%v", x), true
	}
}

// EncodeValues serializes a tuple of values into a byte string such that
// distinct tuples never produce the same output. Each element is written as
// a null flag followed, for non-null values, by a uvarint length and the
// formatted bytes.
func EncodeValues(values []any) []byte {
	buf := make([]byte, 0, 16*len(values))
	var lenBuf [binary.MaxVarintLen64]byte

	for _, v := range values {
		s, ok := FormatValue(v)
		if !ok {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, s...)
	}
	return buf
}

// DecodeValues reverses EncodeValues. NULL elements decode to nil, all
// others to their string form.
func DecodeValues(data []byte) ([]any, error) {
	var values []any
	for len(data) > 0 {
		flag := data[0]
		data = data[1:]
		switch flag {
		case 0:
			values = append(values, nil)
		case 1:
			n, k := binary.Uvarint(data)
			if k <= 0 || uint64(len(data)-k) < n {
				return nil, fmt.Errorf("types: truncated value encoding")
			}
			data = data[k:]
			values = append(values, string(data[:n]))
			data = data[n:]
		default:
			return nil, fmt.Errorf("types: invalid null flag %d", flag)
		}
	}
	return values, nil
}
