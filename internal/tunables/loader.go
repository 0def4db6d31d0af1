package tunables

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse builds a Space from a tunables document. YAML and JSON are both
// accepted. The document maps group names to {cost, params}, and params map
// tunable names to Definitions:
//
//	group_1:
//	  cost: 1
//	  params:
//	    colors:
//	      type: categorical
//	      values: [red, blue, green]
//	      default: green
//
// Groups and params keep the order in which they are declared.
func Parse(data []byte) (*Space, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tunables: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("tunables document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("tunables document must be a mapping of groups")
	}

	var groups []*Group
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		g, err := parseGroup(name, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("tunables document defines no groups")
	}
	return NewSpace(groups...)
}

// Load reads and parses a tunables document from path.
func Load(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tunables file: %w", err)
	}
	return Parse(data)
}

func parseGroup(name string, node *yaml.Node) (*Group, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("group %q: expected a mapping", name)
	}
	g := &Group{Name: name}
	var params *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "cost":
			if err := val.Decode(&g.Cost); err != nil {
				return nil, fmt.Errorf("group %q: invalid cost: %w", name, err)
			}
		case "params":
			params = val
		case "description":
		default:
			return nil, fmt.Errorf("group %q: unknown key %q", name, key)
		}
	}
	if params == nil || params.Kind != yaml.MappingNode || len(params.Content) == 0 {
		return nil, fmt.Errorf("group %q: params must be a non-empty mapping", name)
	}
	for i := 0; i+1 < len(params.Content); i += 2 {
		pname := params.Content[i].Value
		var def Definition
		if err := params.Content[i+1].Decode(&def); err != nil {
			return nil, fmt.Errorf("group %q: tunable %q: %w", name, pname, err)
		}
		t, err := NewTunable(pname, def)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		g.tunables = append(g.tunables, t)
	}
	return g, nil
}
