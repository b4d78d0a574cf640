package validator

import (
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// document is the subset of a Swagger 2.0 / OpenAPI 3 file the validator uses
type document struct {
	Swagger    string               `yaml:"swagger"`
	OpenAPI    string               `yaml:"openapi"`
	BasePath   string               `yaml:"basePath"`
	Servers    []server             `yaml:"servers"`
	Paths      map[string]pathItem  `yaml:"paths"`
	XMSPaths   map[string]pathItem  `yaml:"x-ms-paths"`
	Parameters map[string]parameter `yaml:"parameters"`
	Components struct {
		Parameters map[string]parameter `yaml:"parameters"`
	} `yaml:"components"`
}

type server struct {
	URL string `yaml:"url"`
}

type pathItem struct {
	Parameters []parameter `yaml:"parameters"`
	Get        *operation  `yaml:"get"`
	Put        *operation  `yaml:"put"`
	Post       *operation  `yaml:"post"`
	Delete     *operation  `yaml:"delete"`
	Patch      *operation  `yaml:"patch"`
	Head       *operation  `yaml:"head"`
	Options    *operation  `yaml:"options"`
}

type methodOperation struct {
	method string
	op     *operation
}

func (p pathItem) operations() []methodOperation {
	return []methodOperation{
		{http.MethodGet, p.Get},
		{http.MethodPut, p.Put},
		{http.MethodPost, p.Post},
		{http.MethodDelete, p.Delete},
		{http.MethodPatch, p.Patch},
		{http.MethodHead, p.Head},
		{http.MethodOptions, p.Options},
	}
}

type operation struct {
	OperationID string               `yaml:"operationId"`
	Parameters  []parameter          `yaml:"parameters"`
	RequestBody *requestBody         `yaml:"requestBody"`
	Responses   map[string]yaml.Node `yaml:"responses"`
}

type requestBody struct {
	Required bool `yaml:"required"`
}

type parameter struct {
	Ref      string `yaml:"$ref"`
	Name     string `yaml:"name"`
	In       string `yaml:"in"`
	Required bool   `yaml:"required"`
}

// parseDocument decodes a JSON or YAML definition
func parseDocument(data []byte) (*document, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Swagger == "" && doc.OpenAPI == "" {
		return nil, fmt.Errorf("%w: missing swagger/openapi version", ErrInvalidDocument)
	}
	return &doc, nil
}

// resolve follows a local parameter reference
func (d *document) resolve(p parameter) (parameter, bool) {
	if p.Ref == "" {
		return p, true
	}
	var table map[string]parameter
	var name string
	switch {
	case strings.HasPrefix(p.Ref, "#/parameters/"):
		table, name = d.Parameters, strings.TrimPrefix(p.Ref, "#/parameters/")
	case strings.HasPrefix(p.Ref, "#/components/parameters/"):
		table, name = d.Components.Parameters, strings.TrimPrefix(p.Ref, "#/components/parameters/")
	default:
		// Cross-file references are not followed
		return parameter{}, false
	}
	resolved, ok := table[name]
	return resolved, ok
}

func (d *document) basePath() string {
	if d.BasePath != "" {
		return strings.TrimRight(d.BasePath, "/")
	}
	if len(d.Servers) > 0 {
		u := d.Servers[0].URL
		if i := strings.Index(u, "://"); i >= 0 {
			u = u[i+3:]
			if j := strings.Index(u, "/"); j >= 0 {
				return strings.TrimRight(u[j:], "/")
			}
			return ""
		}
		return strings.TrimRight(u, "/")
	}
	return ""
}

// compile turns a document into indexed operations
func (d *document) compile(source string) []*compiledOperation {
	var ops []*compiledOperation
	base := d.basePath()

	add := func(paths map[string]pathItem) {
		templates := make([]string, 0, len(paths))
		for tmpl := range paths {
			templates = append(templates, tmpl)
		}
		sort.Strings(templates)

		for _, tmpl := range templates {
			item := paths[tmpl]
			for _, mo := range item.operations() {
				if mo.op == nil {
					continue
				}
				ops = append(ops, d.compileOperation(source, base, tmpl, mo.method, item, mo.op))
			}
		}
	}
	add(d.Paths)
	add(d.XMSPaths)
	return ops
}

func (d *document) compileOperation(source, base, tmpl, method string, item pathItem, op *operation) *compiledOperation {
	path := tmpl
	// x-ms-paths carry a query discriminator after '?'
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}

	c := &compiledOperation{
		ID:       op.OperationID,
		Method:   method,
		Template: tmpl,
		Source:   source,
		segments: splitPath(base + path),
	}
	if c.ID == "" {
		c.ID = method + " " + tmpl
	}

	// Operation-level parameters override path-level ones by (in, name)
	params := map[string]parameter{}
	for _, list := range [][]parameter{item.Parameters, op.Parameters} {
		for _, p := range list {
			resolved, ok := d.resolve(p)
			if !ok {
				continue
			}
			params[resolved.In+"/"+strings.ToLower(resolved.Name)] = resolved
		}
	}
	for _, p := range params {
		if !p.Required {
			continue
		}
		switch p.In {
		case "query":
			c.requiredQuery = append(c.requiredQuery, p.Name)
		case "header":
			c.requiredHeaders = append(c.requiredHeaders, p.Name)
		case "body":
			c.bodyRequired = true
		}
	}
	if op.RequestBody != nil && op.RequestBody.Required {
		c.bodyRequired = true
	}
	sort.Strings(c.requiredQuery)
	sort.Strings(c.requiredHeaders)

	c.responses = make(map[string]bool, len(op.Responses))
	for code := range op.Responses {
		c.responses[strings.ToLower(code)] = true
	}
	return c
}

// loadDocuments reads every file of fsys matching pattern
func loadDocuments(fsys fs.FS, pattern string) ([]*compiledOperation, []error, error) {
	pattern = strings.TrimPrefix(pattern, "/")
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, nil, fmt.Errorf("bad path pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var ops []*compiledOperation
	var skipped []error
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", name, err))
			continue
		}
		doc, err := parseDocument(data)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%s: %w", name, err))
			continue
		}
		ops = append(ops, doc.compile(name)...)
	}
	return ops, skipped, nil
}
