package bindings

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/basaltrun/toolfed"
)

// GeneratedFile is one emitted source file: a relative path and its
// contents.
type GeneratedFile struct {
	Path    string
	Content []byte
}

// Generator emits one typed stub per tool plus a per-backend index, then
// a top-level index, from a tool catalog snapshot. Deterministic: the
// same catalog always produces byte-equal output, since every traversal
// (backends, tools, struct fields) is sorted before rendering.
type Generator struct {
	stubTmpl  *template.Template
	indexTmpl *template.Template
	rootTmpl  *template.Template
}

// NewGenerator compiles the stub/index templates once for reuse.
func NewGenerator() (*Generator, error) {
	stubTmpl, err := template.New("stub").Parse(stubTemplate)
	if err != nil {
		return nil, fmt.Errorf("bindings: parse stub template: %w", err)
	}
	indexTmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("bindings: parse index template: %w", err)
	}
	rootTmpl, err := template.New("root").Parse(rootIndexTemplate)
	if err != nil {
		return nil, fmt.Errorf("bindings: parse root index template: %w", err)
	}
	return &Generator{stubTmpl: stubTmpl, indexTmpl: indexTmpl, rootTmpl: rootTmpl}, nil
}

// stubData feeds the per-tool stub template.
type stubData struct {
	Package      string
	FuncName     string
	QualifiedName string
	ArgsType     string
	ArgsFields   []structField
	ResultType   string
	ResultFields []structField
}

// Generate renders the full binding tree for a catalog snapshot.
func (g *Generator) Generate(records []toolfed.ToolRecord) ([]GeneratedFile, error) {
	byBackend := groupByBackend(records)

	backends := make([]string, 0, len(byBackend))
	for backend := range byBackend {
		backends = append(backends, backend)
	}
	sort.Strings(backends)

	var files []GeneratedFile
	for _, backendName := range backends {
		tools := byBackend[backendName]
		sort.Slice(tools, func(i, j int) bool { return tools[i].QualifiedName < tools[j].QualifiedName })

		pkg := sanitizePackageName(backendName)
		var funcNames []string

		for _, rec := range tools {
			_, raw, _ := toolfed.SplitQualifiedName(rec.QualifiedName)
			funcName := exportedFieldName(raw)
			funcNames = append(funcNames, funcName)

			argsSchema, err := parseSchema(rec.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("bindings: %s: %w", rec.QualifiedName, err)
			}
			resultSchema, err := parseSchema(rec.OutputSchema)
			if err != nil {
				return nil, fmt.Errorf("bindings: %s: %w", rec.QualifiedName, err)
			}

			data := stubData{
				Package:       pkg,
				FuncName:      funcName,
				QualifiedName: rec.QualifiedName,
				ArgsType:      funcName + "Args",
				ArgsFields:    structFields(argsSchema),
				ResultType:    funcName + "Result",
				ResultFields:  structFields(resultSchema),
			}

			var buf bytes.Buffer
			if err := g.stubTmpl.Execute(&buf, data); err != nil {
				return nil, fmt.Errorf("bindings: render stub %s: %w", rec.QualifiedName, err)
			}
			files = append(files, GeneratedFile{
				Path:    fmt.Sprintf("%s/%s.go", pkg, strings.ToLower(funcName)),
				Content: buf.Bytes(),
			})
		}

		var buf bytes.Buffer
		if err := g.indexTmpl.Execute(&buf, struct {
			Package string
			Funcs   []string
		}{Package: pkg, Funcs: funcNames}); err != nil {
			return nil, fmt.Errorf("bindings: render index for %s: %w", backendName, err)
		}
		files = append(files, GeneratedFile{Path: fmt.Sprintf("%s/index.go", pkg), Content: buf.Bytes()})
	}

	var rootBuf bytes.Buffer
	if err := g.rootTmpl.Execute(&rootBuf, struct{ Backends []string }{Backends: backends}); err != nil {
		return nil, fmt.Errorf("bindings: render root index: %w", err)
	}
	files = append(files, GeneratedFile{Path: "index.go", Content: rootBuf.Bytes()})

	return files, nil
}

func groupByBackend(records []toolfed.ToolRecord) map[string][]toolfed.ToolRecord {
	out := make(map[string][]toolfed.ToolRecord)
	for _, rec := range records {
		backend := rec.Backend()
		out[backend] = append(out[backend], rec)
	}
	return out
}

func sanitizePackageName(backendName string) string {
	var sb strings.Builder
	for _, r := range backendName {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

const stubTemplate = `// Code generated by toolfed's binding generator. DO NOT EDIT.
package {{.Package}}

import (
	"context"

	"github.com/basaltrun/toolfed/bindings/runtime"
)

// {{.ArgsType}} is the typed argument object for {{.QualifiedName}}.
type {{.ArgsType}} struct {
{{- range .ArgsFields}}
	{{.GoName}} {{.GoType}} ` + "`json:\"{{.JSONName}}\"`" + `
{{- end}}
}

// {{.ResultType}} is the typed result for {{.QualifiedName}}.
type {{.ResultType}} struct {
{{- range .ResultFields}}
	{{.GoName}} {{.GoType}} ` + "`json:\"{{.JSONName}}\"`" + `
{{- end}}
}

// {{.FuncName}} invokes {{.QualifiedName}} through the in-sandbox proxy endpoint.
func {{.FuncName}}(ctx context.Context, args {{.ArgsType}}) ({{.ResultType}}, error) {
	var result {{.ResultType}}
	raw, err := runtime.Invoke(ctx, "{{.QualifiedName}}", args)
	if err != nil {
		return result, err
	}
	err = runtime.DecodeInto(raw, &result)
	return result, err
}
`

const indexTemplate = `// Code generated by toolfed's binding generator. DO NOT EDIT.
package {{.Package}}

// Funcs lists every generated stub in this backend namespace.
var Funcs = []string{
{{- range .Funcs}}
	"{{.}}",
{{- end}}
}
`

const rootIndexTemplate = `// Code generated by toolfed's binding generator. DO NOT EDIT.
package bindings

// Backends lists every namespace emitted by the generator, one per
// federated backend.
var Backends = []string{
{{- range .Backends}}
	"{{.}}",
{{- end}}
}
`
