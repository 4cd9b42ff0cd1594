package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type fileFormat string

const (
	formatJSON fileFormat = "json"
	formatYAML fileFormat = "yaml"
)

// formatOf picks the decoder from the file extension; anything that is not
// .yaml or .yml is read as JSON.
func formatOf(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// yamlToJSON re-encodes a YAML document as JSON so that both formats go
// through the same strict decoder. Duplicate keys are an error; merge keys
// ("<<") fill in only what the mapping does not set itself.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	v, err := yamlValue(&doc, "")
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

func yamlValue(n *yaml.Node, at string) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0], at)
	case yaml.AliasNode:
		return yamlValue(n.Alias, at)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := yamlValue(c, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return yamlMapping(n, at)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", n.Line, at, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node kind %d", n.Line, n.Kind)
}

func yamlMapping(n *yaml.Node, at string) (map[string]any, error) {
	m := make(map[string]any, len(n.Content)/2)
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, val := n.Content[i], n.Content[i+1]
		if k.Tag == "!!merge" {
			merges = append(merges, val)
			continue
		}
		key := joinKey(at, k.Value)
		if _, dup := m[k.Value]; dup {
			return nil, fmt.Errorf("line %d: duplicate key %s", k.Line, key)
		}
		v, err := yamlValue(val, key)
		if err != nil {
			return nil, err
		}
		m[k.Value] = v
	}

	for _, src := range merges {
		if src.Kind == yaml.AliasNode {
			src = src.Alias
		}
		parts := []*yaml.Node{src}
		if src.Kind == yaml.SequenceNode {
			parts = src.Content
		}
		for _, p := range parts {
			v, err := yamlValue(p, at)
			if err != nil {
				return nil, err
			}
			base, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("line %d: merge value at %s is not a mapping", p.Line, displayKey(at))
			}
			for k, bv := range base {
				if _, set := m[k]; !set {
					m[k] = bv
				}
			}
		}
	}
	return m, nil
}

func joinKey(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}

func displayKey(at string) string {
	if at == "" {
		return "top level"
	}
	return at
}
