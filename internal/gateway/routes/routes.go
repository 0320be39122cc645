// Package routes maps gateway endpoints to backend endpoints. Resource
// routes are data: each one is proxied by the same handler.
package routes

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route maps one gateway pattern to one backend call.
type Route struct {
	Name string `yaml:"name"`

	// Method is the inbound method. Empty matches any method.
	Method string `yaml:"method,omitempty"`

	// Pattern is the gateway path, with {name} and {name...} wildcards.
	Pattern string `yaml:"pattern"`

	// UpstreamMethod defaults to the inbound method.
	UpstreamMethod string `yaml:"upstream_method,omitempty"`

	// Upstream is the backend path template. Wildcards of Pattern are
	// substituted by name.
	Upstream string `yaml:"upstream"`
}

// MuxPattern is the http.ServeMux pattern for r.
func (r Route) MuxPattern() string {
	if r.Method == "" {
		return r.Pattern
	}
	return r.Method + " " + r.Pattern
}

// Table is an ordered list of routes.
type Table struct {
	Routes []Route `yaml:"routes"`
}

var wildcard = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(\.\.\.)?\}`)

var validMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Load reads a YAML route table. An empty path yields Default().
func Load(path string) (Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read route table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML route table.
func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("failed to parse route table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks every route and reports all problems at once.
func (t Table) Validate() error {
	if len(t.Routes) == 0 {
		return errors.New("route table is empty")
	}

	var errs []error
	seen := make(map[string]string, len(t.Routes))

	for i, r := range t.Routes {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		if r.Name == "" {
			errs = append(errs, fmt.Errorf("route %s: name is required", label))
		}
		if r.Method != "" && !slices.Contains(validMethods, r.Method) {
			errs = append(errs, fmt.Errorf("route %s: invalid method %q", label, r.Method))
		}
		if r.UpstreamMethod != "" && !slices.Contains(validMethods, r.UpstreamMethod) {
			errs = append(errs, fmt.Errorf("route %s: invalid upstream method %q", label, r.UpstreamMethod))
		}
		if !strings.HasPrefix(r.Pattern, "/api/") {
			errs = append(errs, fmt.Errorf("route %s: pattern must start with /api/", label))
		}
		if strings.HasPrefix(r.Pattern, "/api/auth/") {
			errs = append(errs, fmt.Errorf("route %s: /api/auth/ is reserved", label))
		}
		if !strings.HasPrefix(r.Upstream, "/") {
			errs = append(errs, fmt.Errorf("route %s: upstream must start with /", label))
		}

		declared := make(map[string]bool)
		for _, m := range wildcard.FindAllStringSubmatch(r.Pattern, -1) {
			declared[m[1]] = true
		}
		for _, m := range wildcard.FindAllStringSubmatch(r.Upstream, -1) {
			if !declared[m[1]] {
				errs = append(errs, fmt.Errorf("route %s: upstream uses undeclared wildcard {%s}", label, m[1]))
			}
		}

		if prev, ok := seen[r.MuxPattern()]; ok {
			errs = append(errs, fmt.Errorf("route %s: duplicates route %s", label, prev))
		}
		seen[r.MuxPattern()] = label
	}

	return errors.Join(errs...)
}

// Expand substitutes wildcard values into the upstream template. Single
// segment values are escaped; {name...} values keep their slashes.
func (r Route) Expand(value func(name string) string) string {
	return wildcard.ReplaceAllStringFunc(r.Upstream, func(m string) string {
		sub := wildcard.FindStringSubmatch(m)
		v := value(sub[1])
		if sub[2] == "" {
			return url.PathEscape(v)
		}
		segments := strings.Split(v, "/")
		for i, s := range segments {
			segments[i] = url.PathEscape(s)
		}
		return strings.Join(segments, "/")
	})
}
