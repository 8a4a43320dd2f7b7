package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// DecodeStrict decodes a JSON or YAML document into out. Files named *.yaml or
// *.yml are YAML; anything else is JSON. YAML is re-encoded as JSON first so
// both formats go through the same json tags and unknown-field check.
func DecodeStrict(path string, data []byte, out any) error {
	format, body := "json", data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		tree, err := yamlTree(data)
		if err != nil {
			return fmt.Errorf("yaml decode: %w", err)
		}
		if body, err = json.Marshal(tree); err != nil {
			return fmt.Errorf("yaml decode: re-encode: %w", err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", format, err)
	}
	if rest := bytes.TrimSpace(body[dec.InputOffset():]); len(rest) > 0 {
		return fmt.Errorf("%s decode: trailing data at offset %d", format, dec.InputOffset())
	}
	return nil
}

// yamlTree reads exactly one YAML document into plain maps, slices and
// scalars. An empty stream is an empty mapping.
func yamlTree(data []byte) (any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("line %d: only one document is allowed", extra.Line)
	}
	v, err := nodeValue(&doc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	return v, nil
}

func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		if err := mergeMapping(out, n); err != nil {
			return nil, err
		}
		return out, nil
	default:
		// Dates stay as written; a time.Time would re-encode as a UTC instant.
		if n.ShortTag() == "!!timestamp" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

// mergeMapping copies the pairs of n into out. Keys set directly win over
// keys pulled in with "<<".
func mergeMapping(out map[string]any, n *yaml.Node) error {
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Tag == "!!merge" || (k.Value == "<<" && k.Style == 0) {
			merges = append(merges, v)
			continue
		}
		val, err := nodeValue(v)
		if err != nil {
			return err
		}
		out[k.Value] = val
	}
	for _, m := range merges {
		src := m
		if src.Kind == yaml.AliasNode {
			src = src.Alias
		}
		targets := []*yaml.Node{src}
		if src.Kind == yaml.SequenceNode {
			targets = src.Content
		}
		for _, t := range targets {
			if t.Kind == yaml.AliasNode {
				t = t.Alias
			}
			if t.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: merge value is not a mapping", t.Line)
			}
			sub := make(map[string]any)
			if err := mergeMapping(sub, t); err != nil {
				return err
			}
			for k, v := range sub {
				if _, set := out[k]; !set {
					out[k] = v
				}
			}
		}
	}
	return nil
}
