package tunables

import (
	"fmt"
	"strings"
)

// Group is a named set of tunables that are applied together, with a cost
// hint for how expensive it is to change them.
type Group struct {
	Name     string
	Cost     int
	tunables []*Tunable
}

// NewGroup creates a group from the given tunables, preserving their order.
func NewGroup(name string, cost int, ts ...*Tunable) *Group {
	return &Group{Name: name, Cost: cost, tunables: ts}
}

// Tunables returns the group's tunables in declaration order.
func (g *Group) Tunables() []*Tunable { return g.tunables }

// Space is an ordered collection of tunable groups. Tunable names are unique
// across the whole space.
type Space struct {
	groups []*Group
	index  map[string]*Tunable
	owner  map[string]*Group
}

// NewSpace builds a space from groups, rejecting duplicate group or tunable names.
func NewSpace(groups ...*Group) (*Space, error) {
	s := &Space{
		groups: groups,
		index:  make(map[string]*Tunable),
		owner:  make(map[string]*Group),
	}
	seenGroups := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if _, dup := seenGroups[g.Name]; dup {
			return nil, fmt.Errorf("duplicate tunable group %q", g.Name)
		}
		seenGroups[g.Name] = struct{}{}
		for _, t := range g.tunables {
			if prev, dup := s.owner[t.Name()]; dup {
				return nil, fmt.Errorf("tunable %q defined in both %q and %q", t.Name(), prev.Name, g.Name)
			}
			s.index[t.Name()] = t
			s.owner[t.Name()] = g
		}
	}
	return s, nil
}

// Groups returns the groups in declaration order.
func (s *Space) Groups() []*Group { return s.groups }

// Tunables returns every tunable in declaration order.
func (s *Space) Tunables() []*Tunable {
	out := make([]*Tunable, 0, len(s.index))
	for _, g := range s.groups {
		out = append(out, g.tunables...)
	}
	return out
}

// Names returns the tunable names in declaration order.
func (s *Space) Names() []string {
	ts := s.Tunables()
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}

// Len returns the number of tunables.
func (s *Space) Len() int { return len(s.index) }

// Get looks up a tunable by name.
func (s *Space) Get(name string) (*Tunable, bool) {
	t, ok := s.index[name]
	return t, ok
}

// Value returns the current value of the named tunable.
func (s *Space) Value(name string) (any, bool) {
	t, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return t.Value(), true
}

// Values returns the current values keyed by tunable name.
func (s *Space) Values() map[string]any {
	out := make(map[string]any, len(s.index))
	for name, t := range s.index {
		out[name] = t.Value()
	}
	return out
}

// Assign sets the tunables named in params. Either every value is applied or
// none is: all values are validated before any tunable changes.
func (s *Space) Assign(params map[string]any) error {
	staged := make(map[*Tunable]any, len(params))
	for name, v := range params {
		t, ok := s.index[name]
		if !ok {
			return fmt.Errorf("unknown tunable %q", name)
		}
		c, err := t.coerce(v)
		if err != nil {
			return fmt.Errorf("tunable %q: %w", name, err)
		}
		staged[t] = c
	}
	for t, c := range staged {
		t.current = c
	}
	return nil
}

// RestoreDefaults resets every tunable to its default value.
func (s *Space) RestoreDefaults() *Space {
	for _, t := range s.index {
		t.current = t.def
	}
	return s
}

// IsDefaults reports whether every tunable holds its default value.
func (s *Space) IsDefaults() bool {
	for _, t := range s.index {
		if !t.IsDefault() {
			return false
		}
	}
	return true
}

// Copy returns a deep copy, so assignments on the copy leave s untouched.
func (s *Space) Copy() *Space {
	groups := make([]*Group, len(s.groups))
	for i, g := range s.groups {
		ts := make([]*Tunable, len(g.tunables))
		for j, t := range g.tunables {
			ts[j] = t.Copy()
		}
		groups[i] = NewGroup(g.Name, g.Cost, ts...)
	}
	// Names were validated when s was built.
	c, _ := NewSpace(groups...)
	return c
}

// Equal reports whether both spaces hold the same tunables with the same values.
func (s *Space) Equal(other *Space) bool {
	if other == nil || len(s.index) != len(other.index) {
		return false
	}
	for name, t := range s.index {
		o, ok := other.index[name]
		if !ok || o.Value() != t.Value() {
			return false
		}
	}
	return true
}

func (s *Space) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, t := range s.Tunables() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", t.Name(), t.Value())
	}
	b.WriteByte('}')
	return b.String()
}
