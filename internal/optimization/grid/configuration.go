package grid

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/copyleftdev/gridtune/internal/tunables"
)

// Schema is the fixed column order used to interpret configuration tuples.
// It is captured once, when the grid is generated, and may differ from the
// declaration order of the tunable space.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema creates a schema over the given column names.
func NewSchema(columns []string) *Schema {
	s := &Schema{columns: slices.Clone(columns), index: make(map[string]int, len(columns))}
	for i, c := range columns {
		s.index[c] = i
	}
	return s
}

// Columns returns the column names in schema order.
func (s *Schema) Columns() []string { return slices.Clone(s.columns) }

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.columns) }

// Equal reports whether both schemas have the same columns in the same order.
func (s *Schema) Equal(other *Schema) bool {
	return other != nil && slices.Equal(s.columns, other.columns)
}

// FromSpace reads the current values of a tunable space into a
// configuration. The space must define exactly the schema's columns.
func (s *Schema) FromSpace(space *tunables.Space) (Configuration, error) {
	if space == nil {
		return Configuration{}, fmt.Errorf("nil tunable space")
	}
	if space.Len() != len(s.columns) {
		return Configuration{}, fmt.Errorf("tunable space has %d tunables, grid has %d columns",
			space.Len(), len(s.columns))
	}
	values := make([]any, len(s.columns))
	for i, name := range s.columns {
		v, ok := space.Value(name)
		if !ok {
			return Configuration{}, fmt.Errorf("tunable space has no column %q", name)
		}
		values[i] = v
	}
	return s.newConfiguration(values), nil
}

func (s *Schema) newConfiguration(values []any) Configuration {
	return Configuration{schema: s, values: values, key: encodeKey(values)}
}

// Configuration is an immutable tuple of tunable values under a Schema.
// Two configurations are equal iff their value tuples are equal; Key is the
// canonical identity used for set membership.
type Configuration struct {
	schema *Schema
	values []any
	key    string
}

// Key returns the canonical encoding of the value tuple.
func (c Configuration) Key() string { return c.key }

// Schema returns the schema the values are ordered by.
func (c Configuration) Schema() *Schema { return c.schema }

// Values returns a copy of the value tuple in schema order.
func (c Configuration) Values() []any { return slices.Clone(c.values) }

// Equal reports whether both configurations hold the same values.
func (c Configuration) Equal(other Configuration) bool { return c.key == other.key }

// Get returns the value of a named column.
func (c Configuration) Get(name string) (any, bool) {
	if c.schema == nil {
		return nil, false
	}
	i, ok := c.schema.index[name]
	if !ok {
		return nil, false
	}
	return c.values[i], true
}

// Params projects the tuple onto a name-keyed map.
func (c Configuration) Params() map[string]any {
	out := make(map[string]any, len(c.values))
	if c.schema == nil {
		return out
	}
	for i, name := range c.schema.columns {
		out[name] = c.values[i]
	}
	return out
}

func (c Configuration) String() string {
	if c.schema == nil {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range c.schema.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", name, c.values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// encodeKey renders values with a type tag each, so "1" (string), 1 (int)
// and 1.0 (float) never collide.
func encodeKey(values []any) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		switch x := v.(type) {
		case string:
			b.WriteString("s")
			b.WriteString(strconv.Quote(x))
		case int:
			b.WriteString("i")
			b.WriteString(strconv.Itoa(x))
		case float64:
			if x == 0 {
				x = 0 // fold -0 into 0
			}
			b.WriteString("f")
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		default:
			fmt.Fprintf(&b, "?%T:%v", v, v)
		}
	}
	return b.String()
}
