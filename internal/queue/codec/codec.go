// Package codec turns event data into the text stored in the queue table and back.
//
// The stored form is base64-encoded YAML, which keeps the payload
// self-describing and safe to embed in a text column. Floats are always
// tagged !!float and byte slices !!binary, so a decoded value has the same
// Go type as the encoded one for every type Decode produces.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	tagStr       = "!!str"
	tagMap       = "!!map"
	tagSeq       = "!!seq"
	tagFloat     = "!!float"
	tagBinary    = "!!binary"
	tagTimestamp = "!!timestamp"
)

// Encode serializes data for storage
func Encode(data map[string]any) (string, error) {
	node, err := toNode(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	raw, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a stored payload produced by Encode
func Decode(payload string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	value, err := fromNode(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("failed to unmarshal event data: top level is %T, not a mapping", value)
	}
}

func toNode(value any) (*yaml.Node, error) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		node := &yaml.Node{Kind: yaml.MappingNode, Tag: tagMap}
		for _, k := range keys {
			child, err := toNode(v[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: tagStr, Value: k},
				child,
			)
		}
		return node, nil

	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: tagSeq}
		for i, item := range v {
			child, err := toNode(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			node.Content = append(node.Content, child)
		}
		return node, nil

	case float64:
		return floatNode(v), nil
	case float32:
		return floatNode(float64(v)), nil

	case []byte:
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   tagBinary,
			Value: base64.StdEncoding.EncodeToString(v),
		}, nil

	default:
		node := &yaml.Node{}
		if err := node.Encode(v); err != nil {
			return nil, err
		}
		return node, nil
	}
}

// floatNode writes f with an explicit tag so whole numbers stay floats
func floatNode(f float64) *yaml.Node {
	var value string
	switch {
	case math.IsNaN(f):
		value = ".nan"
	case math.IsInf(f, 1):
		value = ".inf"
	case math.IsInf(f, -1):
		value = "-.inf"
	default:
		value = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tagFloat, Value: value}
}

func fromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case 0:
		return nil, nil

	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return fromNode(node.Content[0])

	case yaml.AliasNode:
		if node.Alias == nil {
			return nil, errors.New("dangling alias")
		}
		return fromNode(node.Alias)

	case yaml.MappingNode:
		out := make(map[string]any, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key is not a scalar", key.Line)
			}
			v, err := fromNode(val)
			if err != nil {
				return nil, err
			}
			out[key.Value] = v
		}
		return out, nil

	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := fromNode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case yaml.ScalarNode:
		switch node.ShortTag() {
		case tagBinary:
			b, err := base64.StdEncoding.DecodeString(node.Value)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid binary value: %w", node.Line, err)
			}
			return b, nil
		case tagTimestamp:
			var t time.Time
			if err := node.Decode(&t); err != nil {
				return nil, err
			}
			return t, nil
		default:
			var v any
			if err := node.Decode(&v); err != nil {
				return nil, err
			}
			return v, nil
		}
	}

	return nil, fmt.Errorf("unsupported yaml node kind %d", node.Kind)
}
