// Package tunables models the space of tunable parameters a benchmark run
// searches over: named tunables grouped into covariant groups, each with a
// finite or unbounded domain and a default value.
package tunables

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Type is the kind of domain a tunable draws its values from.
type Type string

const (
	// TypeCategorical tunables take one of a declared list of strings.
	TypeCategorical Type = "categorical"
	// TypeInt tunables take integers from a closed range.
	TypeInt Type = "int"
	// TypeFloat tunables take floats from a closed range.
	TypeFloat Type = "float"
)

// Unbounded is the cardinality reported by tunables that cannot be
// enumerated (unquantized floats).
const Unbounded = 0

// Definition is the declarative form of a tunable as it appears in a
// tunables document.
type Definition struct {
	Type             Type      `yaml:"type" json:"type"`
	Description      string    `yaml:"description,omitempty" json:"description,omitempty"`
	Values           []string  `yaml:"values,omitempty" json:"values,omitempty"`
	Range            []float64 `yaml:"range,omitempty" json:"range,omitempty"`
	Default          any       `yaml:"default" json:"default"`
	QuantizationBins int       `yaml:"quantization_bins,omitempty" json:"quantization_bins,omitempty"`
}

// Tunable is a single named parameter together with its current value.
// Values are held as string (categorical), int (int) or float64 (float).
type Tunable struct {
	name    string
	typ     Type
	values  []string
	lo, hi  float64
	bins    int
	def     any
	current any
}

// NewTunable validates def and returns a tunable set to its default value.
func NewTunable(name string, def Definition) (*Tunable, error) {
	if name == "" {
		return nil, fmt.Errorf("tunable name must not be empty")
	}
	t := &Tunable{name: name, typ: def.Type, bins: def.QuantizationBins}

	switch def.Type {
	case TypeCategorical:
		if len(def.Values) == 0 {
			return nil, fmt.Errorf("tunable %q: categorical tunable requires values", name)
		}
		seen := make(map[string]struct{}, len(def.Values))
		for _, v := range def.Values {
			if _, dup := seen[v]; dup {
				return nil, fmt.Errorf("tunable %q: duplicate categorical value %q", name, v)
			}
			seen[v] = struct{}{}
		}
		if def.QuantizationBins != 0 {
			return nil, fmt.Errorf("tunable %q: categorical tunables cannot be quantized", name)
		}
		t.values = slices.Clone(def.Values)
	case TypeInt, TypeFloat:
		if len(def.Range) != 2 {
			return nil, fmt.Errorf("tunable %q: range must be [min, max]", name)
		}
		t.lo, t.hi = def.Range[0], def.Range[1]
		if t.lo > t.hi {
			return nil, fmt.Errorf("tunable %q: invalid range [%v, %v]", name, t.lo, t.hi)
		}
		if def.Type == TypeInt && (t.lo != math.Trunc(t.lo) || t.hi != math.Trunc(t.hi)) {
			return nil, fmt.Errorf("tunable %q: int range bounds must be integers", name)
		}
		if def.QuantizationBins < 0 || def.QuantizationBins == 1 {
			return nil, fmt.Errorf("tunable %q: quantization_bins must be at least 2, got %d",
				name, def.QuantizationBins)
		}
	default:
		return nil, fmt.Errorf("tunable %q: unknown type %q", name, def.Type)
	}

	v, err := t.coerce(def.Default)
	if err != nil {
		return nil, fmt.Errorf("tunable %q: invalid default: %w", name, err)
	}
	t.def = v
	t.current = v
	return t, nil
}

// Name returns the tunable's name.
func (t *Tunable) Name() string { return t.name }

// Type returns the tunable's domain kind.
func (t *Tunable) Type() Type { return t.typ }

// IsNumerical reports whether the tunable is an int or float tunable.
func (t *Tunable) IsNumerical() bool { return t.typ == TypeInt || t.typ == TypeFloat }

// IsQuantized reports whether the tunable's numeric range is split into bins.
func (t *Tunable) IsQuantized() bool { return t.bins > 0 }

// Default returns the declared default value.
func (t *Tunable) Default() any { return t.def }

// Value returns the current value.
func (t *Tunable) Value() any { return t.current }

// Cardinality returns the number of distinct values the tunable can take,
// or Unbounded if the domain cannot be enumerated.
func (t *Tunable) Cardinality() int {
	switch t.typ {
	case TypeCategorical:
		return len(t.values)
	case TypeInt:
		width := int(t.hi-t.lo) + 1
		if t.bins > 0 && t.bins < width {
			return t.bins
		}
		return width
	default:
		if t.bins > 0 {
			return t.bins
		}
		return Unbounded
	}
}

// Values enumerates every distinct value of the tunable in ascending (or
// declaration) order. It fails for unbounded tunables.
func (t *Tunable) Values() ([]any, error) {
	switch t.typ {
	case TypeCategorical:
		out := make([]any, len(t.values))
		for i, v := range t.values {
			out[i] = v
		}
		return out, nil
	case TypeInt:
		width := int(t.hi-t.lo) + 1
		if t.bins == 0 || t.bins >= width {
			out := make([]any, 0, width)
			for v := int(t.lo); v <= int(t.hi); v++ {
				out = append(out, v)
			}
			return out, nil
		}
		points := floats.Span(make([]float64, t.bins), t.lo, t.hi)
		out := make([]any, 0, len(points))
		last := math.MinInt
		for _, p := range points {
			v := int(math.Round(p))
			if v != last {
				out = append(out, v)
				last = v
			}
		}
		return out, nil
	default:
		if t.bins == 0 {
			return nil, fmt.Errorf("tunable %q: unquantized float tunable cannot be enumerated", t.name)
		}
		points := floats.Span(make([]float64, t.bins), t.lo, t.hi)
		out := make([]any, len(points))
		for i, p := range points {
			out[i] = p
		}
		return out, nil
	}
}

// Set assigns v after coercing it to the tunable's type.
func (t *Tunable) Set(v any) error {
	c, err := t.coerce(v)
	if err != nil {
		return fmt.Errorf("tunable %q: %w", t.name, err)
	}
	t.current = c
	return nil
}

// IsDefault reports whether the current value equals the default.
func (t *Tunable) IsDefault() bool { return t.current == t.def }

// Copy returns an independent copy of the tunable.
func (t *Tunable) Copy() *Tunable {
	c := *t
	c.values = slices.Clone(t.values)
	return &c
}

func (t *Tunable) String() string {
	return fmt.Sprintf("%s[%s]=%v", t.name, t.typ, t.current)
}

// coerce converts v into the tunable's canonical Go type and checks it
// against the domain. JSON decoders hand over numbers as float64, so int
// tunables accept integral floats.
func (t *Tunable) coerce(v any) (any, error) {
	switch t.typ {
	case TypeCategorical:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if !slices.Contains(t.values, s) {
			return nil, fmt.Errorf("value %q not in %v", s, t.values)
		}
		return s, nil
	case TypeInt:
		var n int
		switch x := v.(type) {
		case int:
			n = x
		case int64:
			n = int(x)
		case int32:
			n = int(x)
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("value %v is not an integer", x)
			}
			n = int(x)
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("invalid int value %q: %w", x, err)
			}
			n = parsed
		default:
			return nil, fmt.Errorf("expected int, got %T", v)
		}
		if float64(n) < t.lo || float64(n) > t.hi {
			return nil, fmt.Errorf("value %d out of range [%v, %v]", n, t.lo, t.hi)
		}
		return n, nil
	default:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid float value %q: %w", x, err)
			}
			f = parsed
		default:
			return nil, fmt.Errorf("expected float, got %T", v)
		}
		if math.IsNaN(f) || f < t.lo || f > t.hi {
			return nil, fmt.Errorf("value %v out of range [%v, %v]", f, t.lo, t.hi)
		}
		return f, nil
	}
}
