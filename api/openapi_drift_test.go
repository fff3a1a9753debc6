package api

import (
	"net/http"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// documentedRoutes returns "METHOD /path" for every operation in
// openapi.yaml.
func documentedRoutes(t *testing.T) []string {
	t.Helper()
	var doc struct {
		Paths map[string]map[string]yaml.Node `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(openapiDocument, &doc))

	var out []string
	for path, ops := range doc.Paths {
		for method := range ops {
			if method == "parameters" || strings.HasPrefix(method, "x-") {
				continue
			}
			out = append(out, strings.ToUpper(method)+" "+path)
		}
	}
	sort.Strings(out)
	return out
}

// registeredRoutes walks the router, leaving out the documentation
// endpoints themselves.
func registeredRoutes(t *testing.T, r chi.Router) []string {
	t.Helper()
	docsOnly := []string{"/openapi.yaml", "/docs", "/redoc"}

	var out []string
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route != "/" {
			route = strings.TrimRight(route, "/")
		}
		if !slices.Contains(docsOnly, route) {
			out = append(out, method+" "+route)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

func TestOpenAPIDocumentMatchesRouter(t *testing.T) {
	a, _ := newTestAPI(t)

	assert.Equal(t, documentedRoutes(t), registeredRoutes(t, a.Router()),
		"api/openapi.yaml and Router() disagree")
}
