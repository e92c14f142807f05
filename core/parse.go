package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

// ParsePattern parses a Pattern from YAML or JSON and compiles it
// with the given interpreters (nil means DefaultInterpreters).
func ParsePattern(ctx context.Context, bs []byte, interpreters Interpreters) (*Pattern, error) {
	raw, err := parseLoose(bs)
	if err != nil {
		return nil, err
	}

	var p Pattern
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &Validation{"pattern", err.Error()}
	}

	if err := p.Compile(ctx, interpreters); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParsePatterns parses a list of Patterns, as a YAML or JSON array.
// A document that is a single map parses as a one-element list.
func ParsePatterns(ctx context.Context, bs []byte, interpreters Interpreters) ([]*Pattern, error) {
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		if jerr := json.Unmarshal(bs, &x); jerr != nil {
			return nil, err
		}
	}
	var raws []interface{}
	switch v := genericize(x).(type) {
	case []interface{}:
		raws = v
	case map[string]interface{}:
		raws = []interface{}{v}
	default:
		return nil, &Validation{"patterns", "not a list or map"}
	}

	acc := make([]*Pattern, 0, len(raws))
	for i, raw := range raws {
		var p Pattern
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &p,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(raw); err != nil {
			return nil, &Validation{fmt.Sprintf("patterns[%d]", i), err.Error()}
		}
		if err := p.Compile(ctx, interpreters); err != nil {
			return nil, err
		}
		acc = append(acc, &p)
	}
	return acc, nil
}

// parseLoose reads YAML or JSON into a generic map with string keys
// all the way down.
func parseLoose(bs []byte) (map[string]interface{}, error) {
	var x interface{}
	if looksLikeJSON(bs) {
		if err := json.Unmarshal(bs, &x); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(bs, &x); err != nil {
			return nil, err
		}
	}
	g := genericize(x)
	m, is := g.(map[string]interface{})
	if !is {
		return nil, &Validation{"pattern", "not a map"}
	}
	return m, nil
}

func looksLikeJSON(bs []byte) bool {
	for _, b := range bs {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// genericize rewrites yaml.v2's map[interface{}]interface{} maps as
// map[string]interface{} maps.
func genericize(x interface{}) interface{} {
	switch v := x.(type) {
	case map[interface{}]interface{}:
		acc := make(map[string]interface{}, len(v))
		for k, kid := range v {
			acc[fmt.Sprintf("%v", k)] = genericize(kid)
		}
		return acc
	case map[string]interface{}:
		acc := make(map[string]interface{}, len(v))
		for k, kid := range v {
			acc[k] = genericize(kid)
		}
		return acc
	case []interface{}:
		acc := make([]interface{}, len(v))
		for i, kid := range v {
			acc[i] = genericize(kid)
		}
		return acc
	default:
		return x
	}
}
