// Package canonicalize provides the deterministic JSON serialization used to
// compute request/result/record hashes throughout the gateway. It follows
// RFC 8785 (JCS) for key ordering and escaping, plus the gateway's own
// number normalization rules on top. Timestamps get no special handling: a
// time.Time is serialized as encoding/json renders it (RFC 3339 with
// nanoseconds and the value's own zone offset) and is not converted to UTC.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Canonical returns the canonical JSON representation of v:
//   - map keys sorted lexicographically by UTF-8 bytes
//   - no HTML escaping
//   - no insignificant whitespace
//   - floats equal to an integer value serialize without a decimal point;
//     other floats round to ten decimal places
func Canonical(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := marshalInto(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the SHA-256 hex digest of the canonical JSON representation of v.
func Hash(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String returns the canonical form as a string.
func String(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalInto(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeNumber(buf, t)
	case string:
		return writeString(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalInto(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := marshalInto(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		// Shouldn't be reached: the decode step above always produces one
		// of the cases handled here via UseNumber().
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// json.Encoder.Encode appends a trailing newline; strip it back off.
	before := buf.Len()
	if err := enc.Encode(s); err != nil {
		return err
	}
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		buf.Truncate(len(b) - 1)
	}
	_ = before
	return nil
}

// writeNumber applies the gateway's number normalization: integer-valued
// floats serialize without a decimal point; everything else rounds to ten
// decimal places before formatting, to neutralize floating point
// representation noise across languages and encodings.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonicalize: invalid number %q: %w", n.String(), err)
	}
	if math.Trunc(f) == f && !math.IsInf(f, 0) {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}

	rounded := math.Round(f*1e10) / 1e10
	buf.WriteString(strconv.FormatFloat(rounded, 'f', -1, 64))
	return nil
}
