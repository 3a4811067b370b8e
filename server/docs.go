package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"strings"
)

// DocsInfo preenche o bloco info do documento OpenAPI.
type DocsInfo struct {
	Title       string
	Version     string
	Description string
}

type openAPIDoc struct {
	OpenAPI    string                                 `json:"openapi"`
	Info       openAPIInfo                            `json:"info"`
	Paths      map[string]map[string]openAPIOperation `json:"paths"`
	Components openAPIComponents                      `json:"components"`
}

type openAPIInfo struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type openAPIOperation struct {
	Summary   string                `json:"summary,omitempty"`
	Security  []map[string][]string `json:"security,omitempty"`
	Responses map[string]openAPIRef `json:"responses"`
}

type openAPIRef struct {
	Description string `json:"description"`
}

type openAPIComponents struct {
	SecuritySchemes map[string]openAPISecurityScheme `json:"securitySchemes"`
}

type openAPISecurityScheme struct {
	Type string `json:"type"`
	Name string `json:"name"`
	In   string `json:"in"`
}

var anyMethodOps = []string{"get", "post", "put", "patch", "delete"}

// buildOpenAPI gera o documento a partir da tabela efetiva (rotas Hidden ficam de fora).
func buildOpenAPI(info DocsInfo, table []Route) openAPIDoc {
	doc := openAPIDoc{
		OpenAPI: "3.0.3",
		Info:    openAPIInfo{Title: info.Title, Version: info.Version, Description: info.Description},
		Paths:   make(map[string]map[string]openAPIOperation),
		Components: openAPIComponents{
			SecuritySchemes: map[string]openAPISecurityScheme{
				"apiKey": {Type: "apiKey", Name: "Api-Key", In: "header"},
			},
		},
	}

	for _, rt := range table {
		if rt.Hidden {
			continue
		}
		ops := doc.Paths[rt.Pattern]
		if ops == nil {
			ops = make(map[string]openAPIOperation)
			doc.Paths[rt.Pattern] = ops
		}
		op := openAPIOperation{
			Summary:   rt.Summary,
			Security:  []map[string][]string{{"apiKey": {}}},
			Responses: map[string]openAPIRef{"200": {Description: "OK"}, "429": {Description: "Too Many Requests"}},
		}
		methods := anyMethodOps
		if rt.Method != "" {
			methods = []string{strings.ToLower(rt.Method)}
		}
		for _, m := range methods {
			ops[m] = op
		}
	}
	return doc
}

var docsIndex = template.Must(template.New("docs").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}} {{.Version}}</h1>
<p>OpenAPI document: <a href="{{.JSON}}">{{.JSON}}</a></p>
<ul>{{range .Paths}}<li><code>{{.}}</code></li>{{end}}</ul>
</body></html>
`))

// NewDocsGroup publica a documentação em {docs} (índice) e {docs}/json (OpenAPI).
// O documento é montado a cada requisição a partir da tabela do registrar.
func NewDocsGroup(reg *Registrar, info DocsInfo) RouteGroup {
	base := reg.DocsPath()
	jsonPath := base + "/json"

	openapi := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(buildOpenAPI(info, reg.Table()))
	})

	index := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := buildOpenAPI(info, reg.Table())
		paths := make([]string, 0, len(doc.Paths))
		for p := range doc.Paths {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = docsIndex.Execute(w, struct {
			Title, Version, JSON string
			Paths                []string
		}{info.Title, info.Version, jsonPath, paths})
	})

	return NewGroup("docs",
		Route{Method: http.MethodGet, Pattern: base, Handler: index, Hidden: true},
		Route{Method: http.MethodGet, Pattern: base + "/", Handler: index, Hidden: true},
		Route{Method: http.MethodGet, Pattern: jsonPath, Handler: openapi, Hidden: true},
	)
}
