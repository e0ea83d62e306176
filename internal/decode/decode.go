// Package decode interprets raw datapoint values under a declared encoding rule.
// It has no device knowledge: schemas pick the rule, this package applies it.
package decode

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Rule names an encoding a schema declares for a datapoint code.
type Rule string

const (
	RuleNumeric      Rule = "numeric"
	RuleBool         Rule = "bool"
	RulePackedTriple Rule = "packed_triple"
	RuleEnum         Rule = "enum"
	RuleBinaryLE     Rule = "binary_le"
)

func (r Rule) String() string {
	return string(r)
}

var (
	// ErrUnsupportedType is returned when a value has a JSON type the rule cannot read.
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrShortPayload is returned when a packed or binary value has too few characters or bytes.
	ErrShortPayload = errors.New("payload too short")
	// ErrInvalidDivisor is returned when a scale divisor is not positive.
	ErrInvalidDivisor = errors.New("divisor must be positive")
)

// packed triple layout: 3 digits, 3 digits, remainder
const (
	packedFieldWidth = 3
	packedMinLength  = 2*packedFieldWidth + 1
)

// Numeric reads a JSON number, a numeric string or a boolean as a float.
func Numeric(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, err
		}
		return f, nil
	case bool:
		return Bool(x)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Bool maps true to 1 and false to 0.
func Bool(v any) (float64, error) {
	b, ok := v.(bool)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

// PackedTriple slices a packed string positionally: the first three characters are
// integer field A, the next three integer field B, the remainder float field C.
// Any slice failing to parse fails the whole triple.
func PackedTriple(v any) (a, b, c float64, err error) {
	s, ok := v.(string)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	if len(s) < packedMinLength {
		return 0, 0, 0, fmt.Errorf("%w: %d characters", ErrShortPayload, len(s))
	}

	// slices are byte positional; padding inside a slice is ignored
	ai, err := strconv.Atoi(strings.TrimSpace(s[:packedFieldWidth]))
	if err != nil {
		return 0, 0, 0, err
	}
	bi, err := strconv.Atoi(strings.TrimSpace(s[packedFieldWidth : 2*packedFieldWidth]))
	if err != nil {
		return 0, 0, 0, err
	}
	c, err = strconv.ParseFloat(strings.TrimSpace(s[2*packedFieldWidth:]), 64)
	if err != nil {
		return 0, 0, 0, err
	}
	return float64(ai), float64(bi), c, nil
}

// Enum returns 1 when v is a string containing keyword (case-insensitive) and 0 otherwise.
// It never fails.
func Enum(v any, keyword string) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	if strings.Contains(strings.ToLower(s), strings.ToLower(keyword)) {
		return 1
	}
	return 0
}

// BinaryLE decodes a standard base64 string and reads its first four bytes as an
// unsigned little-endian integer, divided by divisor.
func BinaryLE(v any, divisor float64) (float64, error) {
	if divisor <= 0 {
		return 0, ErrInvalidDivisor
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(raw))
	}
	return float64(binary.LittleEndian.Uint32(raw[:4])) / divisor, nil
}

var scalePrefixes = []struct {
	prefix  string
	divisor float64
}{
	{"voltage", 100},
	{"current", 1000},
	{"activepower", 100},
}

// ScaleForName returns the binary-rule divisor for a field name by its
// case-insensitive prefix: voltage 100 (V), current 1000 (A), activepower 100 (W), else 1.
func ScaleForName(name string) float64 {
	lower := strings.ToLower(name)
	for _, p := range scalePrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.divisor
		}
	}
	return 1
}
