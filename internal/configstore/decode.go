package configstore

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Decode parses a configuration document into flat key/value pairs.
//
// The document may be YAML or JSON. Scalars keep the type their YAML tag
// resolves to, so `5` is an int, `5.0` a double and `"5"` a string. Nested
// mappings are flattened into dotted keys; sequences are ignored. An empty
// document yields an empty map.
func Decode(data []byte) (map[string]Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	values := make(map[string]Value)
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return values, nil
	}

	root := resolveAlias(doc.Content[0])
	switch {
	case root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null":
		return values, nil
	case root.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("%w: root must be a mapping", ErrInvalidDocument)
	}

	flatten("", root, values)
	return values, nil
}

func flatten(prefix string, node *yaml.Node, out map[string]Value) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := resolveAlias(node.Content[i])
		valueNode := resolveAlias(node.Content[i+1])
		if keyNode.Kind != yaml.ScalarNode || keyNode.Value == "" {
			continue
		}

		key := keyNode.Value
		if prefix != "" {
			key = prefix + "." + key
		}

		switch valueNode.Kind {
		case yaml.MappingNode:
			flatten(key, valueNode, out)
		case yaml.ScalarNode:
			if v, ok := scalarValue(valueNode); ok {
				out[key] = v
			}
		}
	}
}

func scalarValue(node *yaml.Node) (Value, bool) {
	switch node.ShortTag() {
	case "!!null":
		return Null(), true
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, false
		}
		return Bool(b), true
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return Value{}, false
		}
		return Int(i), true
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, false
		}
		return Double(f), true
	case "!!str":
		return String(node.Value), true
	default:
		return Value{}, false
	}
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}
