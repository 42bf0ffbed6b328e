package tool

import (
	"testing"

	"github.com/fractary/faber/internal/definition"
)

func paramTool(params map[string]definition.Parameter) *definition.Tool {
	return &definition.Tool{
		Name:        "param-test",
		Description: "test",
		Parameters:  params,
		Implementation: definition.Implementation{
			Type:    definition.ImplementationShell,
			Command: "true",
		},
	}
}

func TestResolveParamsRequired(t *testing.T) {
	tool := paramTool(map[string]definition.Parameter{
		"name": {Type: "string", Required: true},
	})

	if _, err := resolveParams(tool, nil); err == nil {
		t.Error("missing required parameter should fail")
	}
	if _, err := resolveParams(tool, map[string]any{"name": "x"}); err != nil {
		t.Errorf("resolveParams failed: %v", err)
	}
}

func TestResolveParamsDefaults(t *testing.T) {
	tool := paramTool(map[string]definition.Parameter{
		"limit": {Type: "integer", Default: 10},
	})

	resolved, err := resolveParams(tool, nil)
	if err != nil {
		t.Fatalf("resolveParams failed: %v", err)
	}
	if resolved["limit"] != 10 {
		t.Errorf("limit = %v, want default 10", resolved["limit"])
	}
}

func TestResolveParamsEnum(t *testing.T) {
	tool := paramTool(map[string]definition.Parameter{
		"mode": {Type: "string", Enum: []any{"fast", "slow"}},
	})

	if _, err := resolveParams(tool, map[string]any{"mode": "fast"}); err != nil {
		t.Errorf("enum member should pass: %v", err)
	}
	if _, err := resolveParams(tool, map[string]any{"mode": "medium"}); err == nil {
		t.Error("non-member should fail enum check")
	}
}

func TestResolveParamsUndeclared(t *testing.T) {
	tool := paramTool(nil)
	if _, err := resolveParams(tool, map[string]any{"extra": 1}); err == nil {
		t.Error("undeclared parameter should fail")
	}
}

func TestResolveParamsTypeChecks(t *testing.T) {
	tool := paramTool(map[string]definition.Parameter{
		"s": {Type: "string"},
		"i": {Type: "integer"},
		"n": {Type: "number"},
		"b": {Type: "boolean"},
		"o": {Type: "object"},
		"a": {Type: "array"},
	})

	good := map[string]any{
		"s": "text",
		"i": 3,
		"n": 1.5,
		"b": true,
		"o": map[string]any{"k": "v"},
		"a": []any{1, 2},
	}
	if _, err := resolveParams(tool, good); err != nil {
		t.Fatalf("resolveParams failed: %v", err)
	}

	// JSON-decoded integers arrive as float64; whole values pass.
	if _, err := resolveParams(tool, map[string]any{"i": float64(7)}); err != nil {
		t.Errorf("whole float should satisfy integer: %v", err)
	}
	if _, err := resolveParams(tool, map[string]any{"i": 7.5}); err == nil {
		t.Error("fractional float should fail integer check")
	}
	if _, err := resolveParams(tool, map[string]any{"s": 5}); err == nil {
		t.Error("int should fail string check")
	}
	if _, err := resolveParams(tool, map[string]any{"b": "yes"}); err == nil {
		t.Error("string should fail boolean check")
	}
}

func TestResolveParamsEmptyMap(t *testing.T) {
	tool := paramTool(nil)
	resolved, err := resolveParams(tool, nil)
	if err != nil {
		t.Fatalf("resolveParams failed: %v", err)
	}
	if len(resolved) != 0 {
		t.Errorf("resolved = %v, want empty", resolved)
	}
}
