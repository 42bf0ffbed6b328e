package tool

import (
	"fmt"
	"reflect"

	"github.com/fractary/faber/internal/definition"
)

// resolveParams checks supplied params against the tool's declared schema:
// required fields must be present, defaults fill absent optional fields,
// enum membership is enforced, and values must match the declared type.
// The input map is not mutated.
func resolveParams(tool *definition.Tool, params map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(tool.Parameters))
	for k, v := range params {
		if _, declared := tool.Parameters[k]; !declared {
			return nil, fmt.Errorf("parameter %q is not declared by tool %q", k, tool.Name)
		}
		resolved[k] = v
	}

	for name, p := range tool.Parameters {
		v, present := resolved[name]
		if !present {
			if p.Default != nil {
				resolved[name] = p.Default
				continue
			}
			if p.Required {
				return nil, fmt.Errorf("required parameter %q is missing", name)
			}
			continue
		}
		if err := checkType(name, p.Type, v); err != nil {
			return nil, err
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, v) {
			return nil, fmt.Errorf("parameter %q value %v is not one of the allowed values", name, v)
		}
	}
	return resolved, nil
}

func checkType(name, declared string, v any) error {
	if v == nil {
		return nil
	}
	switch declared {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", name)
		}
	case "integer":
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("parameter %q must be an integer", name)
			}
		default:
			return fmt.Errorf("parameter %q must be an integer", name)
		}
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("parameter %q must be a number", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", name)
		}
	case "object":
		if reflect.ValueOf(v).Kind() != reflect.Map {
			return fmt.Errorf("parameter %q must be an object", name)
		}
	case "array":
		if k := reflect.ValueOf(v).Kind(); k != reflect.Slice && k != reflect.Array {
			return fmt.Errorf("parameter %q must be an array", name)
		}
	}
	return nil
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, v) {
			return true
		}
		// YAML integers and JSON numbers cross-compare frequently.
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
