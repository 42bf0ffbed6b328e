package builtin

import (
	"context"
	"fmt"
	goast "go/ast"
	goparser "go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/fractary/faber/internal/definition"
	"github.com/fractary/faber/internal/tool"
)

// sourceSummary is what parse_source returns for one file.
type sourceSummary struct {
	Language  string
	Package   string
	Functions []string
	Types     []string
	Imports   []string
}

func (s *sourceSummary) toMap(path string) map[string]any {
	return map[string]any{
		"path":      path,
		"language":  s.Language,
		"package":   s.Package,
		"functions": s.Functions,
		"types":     s.Types,
		"imports":   s.Imports,
	}
}

func analysisFunctions(deps Deps) map[string]tool.Function {
	return map[string]tool.Function{
		"parse_source": func(ctx context.Context, params map[string]any) (any, error) {
			path, err := requiredStringArg(params, "path")
			if err != nil {
				return nil, err
			}
			language := stringArg(params, "language")
			if language == "" {
				language = languageForPath(path)
			}
			summary, err := parseSource(ctx, path, language)
			if err != nil {
				return nil, err
			}
			return summary.toMap(path), nil
		},
	}
}

func languageForPath(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs", ".ts":
		return "javascript"
	default:
		return ""
	}
}

func parseSource(ctx context.Context, path, language string) (*sourceSummary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	switch language {
	case "go":
		return parseGoSource(path, content)
	case "python":
		return parseSitterSource(ctx, content, python.GetLanguage(), pythonNodes)
	case "javascript":
		return parseSitterSource(ctx, content, javascript.GetLanguage(), javascriptNodes)
	default:
		return nil, fmt.Errorf("unsupported language %q (supported: go, python, javascript)", language)
	}
}

// parseGoSource uses the standard parser; tree-sitter adds nothing for Go.
func parseGoSource(path string, content []byte) (*sourceSummary, error) {
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, content, goparser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse go source: %w", err)
	}

	summary := &sourceSummary{Language: "go", Package: file.Name.Name}
	for _, imp := range file.Imports {
		summary.Imports = append(summary.Imports, strings.Trim(imp.Path.Value, `"`))
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *goast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				name = receiverName(d.Recv.List[0].Type) + "." + name
			}
			summary.Functions = append(summary.Functions, name)
		case *goast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, s := range d.Specs {
				if ts, ok := s.(*goast.TypeSpec); ok {
					summary.Types = append(summary.Types, ts.Name.Name)
				}
			}
		}
	}
	return summary, nil
}

func receiverName(expr goast.Expr) string {
	switch t := expr.(type) {
	case *goast.Ident:
		return t.Name
	case *goast.StarExpr:
		return receiverName(t.X)
	case *goast.IndexExpr:
		return receiverName(t.X)
	case *goast.IndexListExpr:
		return receiverName(t.X)
	default:
		return ""
	}
}

// nodeKinds names the tree-sitter node types that count as functions, types
// and imports in one grammar.
type nodeKinds struct {
	language  string
	functions map[string]bool
	types     map[string]bool
	imports   map[string]bool
}

var pythonNodes = nodeKinds{
	language:  "python",
	functions: map[string]bool{"function_definition": true},
	types:     map[string]bool{"class_definition": true},
	imports:   map[string]bool{"import_statement": true, "import_from_statement": true},
}

var javascriptNodes = nodeKinds{
	language:  "javascript",
	functions: map[string]bool{"function_declaration": true, "generator_function_declaration": true, "method_definition": true},
	types:     map[string]bool{"class_declaration": true},
	imports:   map[string]bool{"import_statement": true},
}

func parseSitterSource(ctx context.Context, content []byte, lang *sitter.Language, kinds nodeKinds) (*sourceSummary, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s source: %w", kinds.language, err)
	}
	defer tree.Close()

	summary := &sourceSummary{Language: kinds.language}
	collectNodes(tree.RootNode(), content, kinds, summary)
	return summary, nil
}

func collectNodes(node *sitter.Node, content []byte, kinds nodeKinds, summary *sourceSummary) {
	nodeType := node.Type()
	switch {
	case kinds.functions[nodeType]:
		if name := namedChildContent(node, content); name != "" {
			summary.Functions = append(summary.Functions, name)
		}
	case kinds.types[nodeType]:
		if name := namedChildContent(node, content); name != "" {
			summary.Types = append(summary.Types, name)
		}
	case kinds.imports[nodeType]:
		summary.Imports = append(summary.Imports, node.Content(content))
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectNodes(node.NamedChild(i), content, kinds, summary)
	}
}

func namedChildContent(node *sitter.Node, content []byte) string {
	name := node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return name.Content(content)
}

func analysisDefinitions() []*definition.Tool {
	return []*definition.Tool{
		def(ModuleAnalysis, "parse_source",
			"Parse a source file and list its functions, types and imports.",
			map[string]definition.Parameter{
				"path":     {Type: "string", Description: "Path to the source file", Required: true},
				"language": {Type: "string", Description: "Language override (inferred from the extension when omitted)", Enum: []any{"go", "python", "javascript"}},
			}),
	}
}
