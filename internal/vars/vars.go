// Package vars loads template variables from JSON or YAML files, inline
// documents and key=value assignments.
package vars

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxSize bounds a variables document.
const MaxSize = 1 << 20

// DataExtensions are tried, in order, when looking for a template's data
// file.
var DataExtensions = []string{".yml", ".yaml", ".json"}

// Parse decodes a JSON or YAML mapping. An empty document yields an empty
// map.
func Parse(data []byte) (map[string]interface{}, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("variables too large (max %d bytes)", MaxSize)
	}

	vars := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("invalid variables document: %w", err)
	}
	if vars == nil {
		vars = make(map[string]interface{})
	}
	return normalizeKeys(vars).(map[string]interface{}), nil
}

// LoadFile reads and parses a variables file.
func LoadFile(path string) (map[string]interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file %s: %w", path, err)
	}
	if info.Size() > MaxSize {
		return nil, fmt.Errorf("variables file %s too large (max %d bytes)", path, MaxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variables file %s: %w", path, err)
	}

	vars, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// Argument resolves a --vars argument: "@file" or an existing path is read
// from disk, anything else is parsed as an inline document.
func Argument(arg string) (map[string]interface{}, error) {
	if arg == "" {
		return make(map[string]interface{}), nil
	}
	if strings.HasPrefix(arg, "@") {
		return LoadFile(strings.TrimPrefix(arg, "@"))
	}
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return LoadFile(arg)
	}
	return Parse([]byte(arg))
}

// DataFileFor returns the data file that sits next to templatePath
// (page.html -> page.yml, page.yaml or page.json), or "" when there is none.
func DataFileFor(templatePath string) string {
	base := strings.TrimSuffix(templatePath, filepath.Ext(templatePath))
	for _, ext := range DataExtensions {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// ParseAssignments turns "key=value" pairs into variables. Values are read
// as YAML scalars, so numbers and booleans keep their type. Dotted keys
// build nested maps.
func ParseAssignments(assignments []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})
	for _, assignment := range assignments {
		key, raw, ok := strings.Cut(assignment, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected key=value", assignment)
		}

		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || isCollection(value) {
			value = raw
		}
		if value == nil && raw != "null" && raw != "~" {
			value = raw
		}

		if err := set(vars, strings.Split(key, "."), value); err != nil {
			return nil, fmt.Errorf("invalid assignment %q: %w", assignment, err)
		}
	}
	return vars, nil
}

// Merge copies src into dst, recursing into maps present in both.
func Merge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = Merge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func set(vars map[string]interface{}, path []string, value interface{}) error {
	for i, part := range path {
		if part == "" {
			return fmt.Errorf("empty key segment")
		}
		if i == len(path)-1 {
			vars[part] = value
			return nil
		}
		next, ok := vars[part].(map[string]interface{})
		if !ok {
			if _, exists := vars[part]; exists {
				return fmt.Errorf("%s is not a map", strings.Join(path[:i+1], "."))
			}
			next = make(map[string]interface{})
			vars[part] = next
		}
		vars = next
	}
	return nil
}

func isCollection(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		return true
	}
	return false
}

// normalizeKeys converts YAML maps with non-string keys into string-keyed
// maps so every nested mapping is addressable from expressions.
func normalizeKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeKeys(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeKeys(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeKeys(item)
		}
		return val
	default:
		return v
	}
}
