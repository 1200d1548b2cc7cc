package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts TOML and YAML configs to JSON bytes so the
// strict JSON decoder (DisallowUnknownFields) serves every format.
//
// Returns (jsonBytes, format, err) where format is "json", "toml" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	var (
		v      any
		format string
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = "toml"
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, format, fmt.Errorf("toml unmarshal: %w", err)
		}
		v = m
	case ".yaml", ".yml":
		format = "yaml"
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, format, fmt.Errorf("yaml unmarshal: %w", err)
		}
		v = normalizeYAML(v)
	default:
		return data, "json", nil
	}

	j, err := json.Marshal(v)
	if err != nil {
		return nil, format, fmt.Errorf("%s->json marshal: %w", format, err)
	}
	return j, format, nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
