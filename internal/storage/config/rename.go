package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rename maps one raw column name to its cleaned name.
type Rename struct {
	From string
	To   string
}

// Renames is an ordered rename mapping. In YAML it is written as a plain
// mapping; document order is kept because it becomes the column order of
// the cleaned table.
type Renames []Rename

// UnmarshalYAML decodes a mapping node in document order.
func (r *Renames) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rename must be a mapping", node.Line)
	}
	out := make(Renames, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: rename entries must be scalars", k.Line)
		}
		out = append(out, Rename{From: k.Value, To: v.Value})
	}
	*r = out
	return nil
}

// MarshalYAML encodes the renames as a mapping in order.
func (r Renames) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range r {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.From},
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.To},
		)
	}
	return node, nil
}

// Map returns the renames as a lookup map.
func (r Renames) Map() map[string]string {
	out := make(map[string]string, len(r))
	for _, e := range r {
		out[e.From] = e.To
	}
	return out
}

// Targets returns the cleaned names in order.
func (r Renames) Targets() []string {
	out := make([]string, len(r))
	for i, e := range r {
		out[i] = e.To
	}
	return out
}
