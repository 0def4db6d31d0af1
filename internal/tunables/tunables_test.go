package tunables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleDoc = `
group_1:
  cost: 1
  params:
    colors:
      type: categorical
      values: [red, blue, green]
      default: green
    int_param:
      type: int
      range: [1, 3]
      default: 2
    float_param:
      type: float
      range: [0, 1]
      default: 0.5
      quantization_bins: 3
`

func TestParsePreservesDeclarationOrder(t *testing.T) {
	space, err := Parse([]byte(exampleDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"colors", "int_param", "float_param"}, space.Names())
	assert.Equal(t, map[string]any{
		"colors":      "green",
		"int_param":   2,
		"float_param": 0.5,
	}, space.Values())
	assert.True(t, space.IsDefaults())
	require.Len(t, space.Groups(), 1)
	assert.Equal(t, 1, space.Groups()[0].Cost)
}

func TestParseJSON(t *testing.T) {
	doc := `{"g": {"cost": 2, "params": {"b": {"type": "int", "range": [0, 4], "default": 1}, ` +
		`"a": {"type": "categorical", "values": ["x", "y"], "default": "y"}}}}`
	space, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, space.Names())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"not a mapping", `- a`},
		{"no params", "g:\n  cost: 1\n"},
		{"unknown key", "g:\n  foo: 1\n  params:\n    a: {type: int, range: [0, 1], default: 0}\n"},
		{"bad default", "g:\n  params:\n    a: {type: int, range: [0, 1], default: 5}\n"},
		{"unknown type", "g:\n  params:\n    a: {type: bool, default: true}\n"},
		{"duplicate tunable", "g:\n  params:\n    a: {type: int, range: [0, 1], default: 0}\n" +
			"h:\n  params:\n    a: {type: int, range: [0, 1], default: 0}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestCardinalityAndValues(t *testing.T) {
	tests := []struct {
		name        string
		def         Definition
		cardinality int
		values      []any
	}{
		{
			name:        "categorical",
			def:         Definition{Type: TypeCategorical, Values: []string{"red", "blue"}, Default: "red"},
			cardinality: 2,
			values:      []any{"red", "blue"},
		},
		{
			name:        "int range",
			def:         Definition{Type: TypeInt, Range: []float64{1, 3}, Default: 2},
			cardinality: 3,
			values:      []any{1, 2, 3},
		},
		{
			name:        "quantized int",
			def:         Definition{Type: TypeInt, Range: []float64{0, 100}, Default: 50, QuantizationBins: 3},
			cardinality: 3,
			values:      []any{0, 50, 100},
		},
		{
			name:        "int bins wider than range",
			def:         Definition{Type: TypeInt, Range: []float64{0, 2}, Default: 1, QuantizationBins: 10},
			cardinality: 3,
			values:      []any{0, 1, 2},
		},
		{
			name:        "quantized float",
			def:         Definition{Type: TypeFloat, Range: []float64{0, 1}, Default: 0.5, QuantizationBins: 3},
			cardinality: 3,
			values:      []any{0.0, 0.5, 1.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tun, err := NewTunable("p", tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.cardinality, tun.Cardinality())
			values, err := tun.Values()
			require.NoError(t, err)
			assert.Equal(t, tt.values, values)
		})
	}
}

func TestUnquantizedFloatIsUnbounded(t *testing.T) {
	tun, err := NewTunable("f", Definition{Type: TypeFloat, Range: []float64{0, 1}, Default: 0.1})
	require.NoError(t, err)
	assert.Equal(t, Unbounded, tun.Cardinality())
	assert.True(t, tun.IsNumerical())
	assert.False(t, tun.IsQuantized())
	_, err = tun.Values()
	assert.Error(t, err)
}

func TestSetCoercion(t *testing.T) {
	i, err := NewTunable("i", Definition{Type: TypeInt, Range: []float64{0, 10}, Default: 1})
	require.NoError(t, err)
	require.NoError(t, i.Set(4.0))
	assert.Equal(t, 4, i.Value())
	require.NoError(t, i.Set("7"))
	assert.Equal(t, 7, i.Value())
	assert.Error(t, i.Set(2.5))
	assert.Error(t, i.Set(11))

	f, err := NewTunable("f", Definition{Type: TypeFloat, Range: []float64{0, 1}, Default: 0, QuantizationBins: 2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Value())
	require.NoError(t, f.Set(1))
	assert.Equal(t, 1.0, f.Value())

	c, err := NewTunable("c", Definition{Type: TypeCategorical, Values: []string{"a"}, Default: "a"})
	require.NoError(t, err)
	assert.Error(t, c.Set("b"))
	assert.Error(t, c.Set(1))
}

func TestAssignIsAllOrNothing(t *testing.T) {
	space, err := Parse([]byte(exampleDoc))
	require.NoError(t, err)

	err = space.Assign(map[string]any{"colors": "red", "int_param": 9})
	require.Error(t, err)
	assert.Equal(t, "green", mustValue(t, space, "colors"))

	err = space.Assign(map[string]any{"missing": 1})
	require.Error(t, err)

	require.NoError(t, space.Assign(map[string]any{"colors": "red", "int_param": 3.0}))
	assert.Equal(t, "red", mustValue(t, space, "colors"))
	assert.Equal(t, 3, mustValue(t, space, "int_param"))
	assert.False(t, space.IsDefaults())

	space.RestoreDefaults()
	assert.True(t, space.IsDefaults())
}

func TestCopyIsIndependent(t *testing.T) {
	space, err := Parse([]byte(exampleDoc))
	require.NoError(t, err)

	c := space.Copy()
	assert.True(t, c.Equal(space))
	require.NoError(t, c.Assign(map[string]any{"colors": "blue"}))
	assert.False(t, c.Equal(space))
	assert.Equal(t, "green", mustValue(t, space, "colors"))
	assert.Equal(t, "{colors=blue, int_param=2, float_param=0.5}", c.String())
}

func mustValue(t *testing.T, s *Space, name string) any {
	t.Helper()
	v, ok := s.Value(name)
	require.True(t, ok, "tunable %s not found", name)
	return v
}
