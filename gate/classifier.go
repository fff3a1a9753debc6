// Package gate contains the route-security decisions: route classification,
// principal authentication and CSRF verification. Everything here is pure;
// the HTTP boundary lives in package api.
package gate

import (
	"path"
	"strings"
)

// Class is the protection level of a route.
type Class int

const (
	Public Class = iota
	RequiresAuthentication
	RequiresAdminRole
)

func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case RequiresAuthentication:
		return "authenticated"
	case RequiresAdminRole:
		return "admin"
	default:
		return "unknown"
	}
}

// Route is an exact (method, path) pair.
type Route struct {
	Method string
	Path   string
}

// PrefixRule protects every path equal to Prefix or below it. An empty
// Methods list matches every method.
type PrefixRule struct {
	Prefix  string
	Methods []string
	Class   Class
}

func (r PrefixRule) matches(method, p string) bool {
	if p != r.Prefix && !strings.HasPrefix(p, r.Prefix+"/") {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Rules is the data a Classifier is built from.
type Rules struct {
	Public        []Route
	Admin         []Route
	Authenticated []Route
	Prefixes      []PrefixRule
	// StaticExtensions are file extensions (without dot) served publicly
	// for GET and HEAD. Like Public, they take precedence over every
	// protected rule, prefixes included.
	StaticExtensions []string
	// Default is the class of paths no rule matches.
	Default Class
}

var writeMethods = []string{"PUT", "PATCH", "DELETE"}

// DefaultRules returns the route tables of the appointment application.
func DefaultRules() Rules {
	return Rules{
		Public: []Route{
			{"GET", "/"},
			{"GET", "/terminanfrage.html"},
			{"GET", "/health"},
			{"GET", "/csrf-token"},
			{"GET", "/login"},
			{"POST", "/login"},
			{"POST", "/logout"},
			{"POST", "/anfrage"},
			{"GET", "/outlook/freie-slots"},
			{"GET", "/outlook/available-slots"},
			{"GET", "/openapi.yaml"},
			{"GET", "/docs"},
			{"GET", "/redoc"},
		},
		Admin: []Route{
			{"GET", "/anfrage"},
			{"GET", "/outlook/events"},
			{"POST", "/outlook/events"},
			{"GET", "/outlook/test"},
			{"GET", "/outlook/health"},
			{"GET", "/users"},
			{"POST", "/users"},
			{"GET", "/anfrage/stats/overview"},
			{"GET", "/anfrage/export/csv"},
			{"GET", "/metrics"},
		},
		Authenticated: []Route{
			{"GET", "/session"},
		},
		Prefixes: []PrefixRule{
			{Prefix: "/admin", Class: RequiresAdminRole},
			{Prefix: "/anfrage", Class: RequiresAdminRole},
			{Prefix: "/outlook/events", Methods: writeMethods, Class: RequiresAdminRole},
			{Prefix: "/users", Methods: writeMethods, Class: RequiresAdminRole},
		},
		StaticExtensions: []string{
			"js", "css", "png", "jpg", "jpeg", "gif", "ico", "svg",
			"woff", "woff2", "ttf", "eot", "map",
		},
		Default: Public,
	}
}

// Classifier maps (method, path) to a Class. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	public        map[Route]struct{}
	admin         map[Route]struct{}
	authenticated map[Route]struct{}
	prefixes      []PrefixRule
	static        map[string]struct{}
	def           Class
}

func routeSet(routes []Route) map[Route]struct{} {
	set := make(map[Route]struct{}, len(routes))
	for _, r := range routes {
		set[Route{Method: strings.ToUpper(r.Method), Path: strings.ToLower(r.Path)}] = struct{}{}
	}
	return set
}

// NewClassifier builds a Classifier from rules.
func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{
		public:        routeSet(rules.Public),
		admin:         routeSet(rules.Admin),
		authenticated: routeSet(rules.Authenticated),
		static:        make(map[string]struct{}, len(rules.StaticExtensions)),
		def:           rules.Default,
	}
	for _, p := range rules.Prefixes {
		p.Prefix = strings.ToLower(strings.TrimSuffix(p.Prefix, "/"))
		methods := make([]string, len(p.Methods))
		for i, m := range p.Methods {
			methods[i] = strings.ToUpper(m)
		}
		p.Methods = methods
		c.prefixes = append(c.prefixes, p)
	}
	for _, ext := range rules.StaticExtensions {
		c.static[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return c
}

// Classify returns the protection level for a request. The public routes
// and static extensions are consulted first, then the admin and
// authenticated routes, then the prefix rules. Paths are matched
// case-insensitively and without a trailing slash; HEAD is treated as GET.
// Non-canonical paths never match a public rule; they classify as
// RequiresAdminRole.
func (c *Classifier) Classify(method, p string) Class {
	if !canonical(p) {
		return RequiresAdminRole
	}
	method = strings.ToUpper(method)
	lookup := method
	if lookup == "HEAD" {
		lookup = "GET"
	}
	p = strings.ToLower(p)
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	key := Route{Method: lookup, Path: p}

	if _, ok := c.public[key]; ok {
		return Public
	}
	if lookup == "GET" && c.isStatic(p) {
		return Public
	}
	if _, ok := c.admin[key]; ok {
		return RequiresAdminRole
	}
	if _, ok := c.authenticated[key]; ok {
		return RequiresAuthentication
	}
	for _, rule := range c.prefixes {
		if rule.matches(lookup, p) {
			return rule.Class
		}
	}
	return c.def
}

func (c *Classifier) isStatic(p string) bool {
	ext := path.Ext(p)
	if ext == "" {
		return false
	}
	_, ok := c.static[ext[1:]]
	return ok
}

// canonical reports whether p is an absolute, clean path: no empty, "." or
// ".." segments. A single trailing slash is allowed.
func canonical(p string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p == "/" {
		return true
	}
	trimmed := strings.TrimSuffix(p[1:], "/")
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}
