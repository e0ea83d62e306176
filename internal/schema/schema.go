// Package schema declares, per device type, which datapoint codes exist, how each is
// encoded and which named metrics it produces.
package schema

import (
	"fmt"
	"strings"

	"github.com/sbaerlocher/tuyametrics/internal/decode"
	"github.com/sbaerlocher/tuyametrics/internal/errors"
	"github.com/sbaerlocher/tuyametrics/internal/types"
	"github.com/sbaerlocher/tuyametrics/pkg/device"
)

// Kind tags a device type with its schema variant.
type Kind string

const (
	KindATS  Kind = "ats"
	KindFuse Kind = "fuse"
)

func (k Kind) String() string {
	return string(k)
}

// ParseKind resolves a case-insensitive schema tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := factories[k]; !ok {
		return "", fmt.Errorf("%w: %q (known: %v)", errors.ErrUnknownSchema, s, Kinds())
	}
	return k, nil
}

// Metric is one named observation a schema can produce.
type Metric struct {
	// Key identifies the value in Samples.
	Key string
	// Name is the exposed gauge name.
	Name types.MetricName
	Help string
}

// Samples maps metric keys to the values decoded in one collection cycle.
// A key is present only when its datapoint was reported and decoded.
type Samples map[string]float64

// Schema is implemented by every device type variant.
type Schema interface {
	Kind() Kind
	// Metrics lists every metric the schema can produce, in declaration order.
	Metrics() []Metric
	// Collect decodes one status snapshot. Fields that fail to decode are
	// absent from Samples and reported as DecodeErrors; they never abort the cycle.
	Collect(datapoints []device.Datapoint) (Samples, []error)
}

// Factory builds a fresh schema instance for one collection cycle.
type Factory func() Schema

var factories = map[Kind]Factory{
	KindATS:  func() Schema { return NewATS() },
	KindFuse: func() Schema { return NewFuse() },
}

// Kinds returns the known schema tags.
func Kinds() []Kind {
	return []Kind{KindATS, KindFuse}
}

// field binds one datapoint code to its decode rule and output metrics.
// A packed triple field has three outputs, every other rule has one.
type field struct {
	code    string
	rule    decode.Rule
	keyword string
	divisor float64
	outputs []Metric
}

// fieldSet is the shared Collect implementation behind the schema variants.
type fieldSet []field

func (fs fieldSet) metrics() []Metric {
	var out []Metric
	for _, f := range fs {
		out = append(out, f.outputs...)
	}
	return out
}

func (fs fieldSet) collect(datapoints []device.Datapoint) (Samples, []error) {
	values := device.Index(datapoints)
	samples := make(Samples, len(fs))
	var failures []error

	for _, f := range fs {
		raw, ok := values[f.code]
		if !ok {
			continue
		}

		decoded, err := f.decode(raw)
		if err != nil {
			failures = append(failures, errors.DecodeError{
				Code:       f.code,
				Rule:       f.rule.String(),
				Value:      raw,
				Underlying: err,
			})
			continue
		}

		for i, m := range f.outputs {
			samples[m.Key] = decoded[i]
		}
	}

	return samples, failures
}

func (f field) decode(raw any) ([]float64, error) {
	switch f.rule {
	case decode.RuleNumeric:
		v, err := decode.Numeric(raw)
		return []float64{v}, err
	case decode.RuleBool:
		v, err := decode.Bool(raw)
		return []float64{v}, err
	case decode.RuleEnum:
		return []float64{decode.Enum(raw, f.keyword)}, nil
	case decode.RulePackedTriple:
		a, b, c, err := decode.PackedTriple(raw)
		return []float64{a, b, c}, err
	case decode.RuleBinaryLE:
		// numbers are already in their final unit
		if _, ok := raw.(string); !ok {
			v, err := decode.Numeric(raw)
			return []float64{v}, err
		}
		v, err := decode.BinaryLE(raw, f.divisor)
		return []float64{v}, err
	default:
		return nil, fmt.Errorf("unknown rule %q", f.rule)
	}
}

func metric(key, name, help string) Metric {
	return Metric{Key: key, Name: types.MetricName(name), Help: help}
}

func numeric(code, name, help string) field {
	return field{code: code, rule: decode.RuleNumeric, outputs: []Metric{metric(code, name, help)}}
}
