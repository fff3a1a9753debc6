package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDefaultRules(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		method, path string
		want         Class
	}{
		{"GET", "/", Public},
		{"GET", "/terminanfrage.html", Public},
		{"GET", "/csrf-token", Public},
		{"POST", "/login", Public},
		{"POST", "/logout", Public},
		{"POST", "/anfrage", Public},
		{"GET", "/outlook/freie-slots", Public},
		{"GET", "/js/app.js", Public},
		{"HEAD", "/css/site.css", Public},
		{"GET", "/impressum", Public},
		{"GET", "/admin/app.js", Public},
		{"HEAD", "/admin/css/admin.css", Public},
		{"GET", "/anfrage/logo.png", Public},

		{"GET", "/session", RequiresAuthentication},
		{"GET", "/session/", RequiresAuthentication},

		{"GET", "/anfrage", RequiresAdminRole},
		{"HEAD", "/anfrage", RequiresAdminRole},
		{"GET", "/anfrage/42", RequiresAdminRole},
		{"PATCH", "/anfrage/42", RequiresAdminRole},
		{"POST", "/anfrage/42/ablehnen", RequiresAdminRole},
		{"DELETE", "/anfrage/42", RequiresAdminRole},
		{"GET", "/anfrage/export/csv", RequiresAdminRole},
		{"GET", "/admin", RequiresAdminRole},
		{"GET", "/admin/dashboard", RequiresAdminRole},
		{"GET", "/outlook/events", RequiresAdminRole},
		{"POST", "/outlook/events", RequiresAdminRole},
		{"DELETE", "/outlook/events/abc", RequiresAdminRole},
		{"PUT", "/users/7", RequiresAdminRole},
		{"GET", "/metrics", RequiresAdminRole},
		{"POST", "/admin/app.js", RequiresAdminRole},
		{"GET", "/admin/app.js.bak", RequiresAdminRole},

		{"GET", "/outlook/events/abc", Public},
		{"GET", "/users/7", Public},
		{"GET", "/administrator", Public},
		{"GET", "/anfragen", Public},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.method, tt.path))
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := NewClassifier(DefaultRules())
	assert.Equal(t, RequiresAdminRole, c.Classify("get", "/ADMIN/Dashboard"))
	assert.Equal(t, RequiresAdminRole, c.Classify("GET", "/Anfrage"))
	assert.Equal(t, Public, c.Classify("post", "/LOGIN"))
}

func TestClassifyNonCanonicalFailsClosed(t *testing.T) {
	c := NewClassifier(DefaultRules())
	for _, p := range []string{
		"",
		"login",
		"//admin",
		"/public/../admin",
		"/./anfrage",
		"/js/../../etc/passwd.js",
		"/outlook//events",
	} {
		assert.Equal(t, RequiresAdminRole, c.Classify("GET", p), "path %q", p)
	}
}

// Removing a single exact rule must change the classification of exactly
// that pair and nothing else.
func TestClassifierIsDataDriven(t *testing.T) {
	base := DefaultRules()
	samples := []Route{}
	for _, list := range [][]Route{base.Public, base.Admin, base.Authenticated} {
		samples = append(samples, list...)
	}
	samples = append(samples, Route{"GET", "/impressum"}, Route{"DELETE", "/users/1"}, Route{"GET", "/admin/x"})

	full := NewClassifier(base)
	for i, removed := range base.Admin {
		rules := DefaultRules()
		rules.Admin = append(rules.Admin[:i:i], rules.Admin[i+1:]...)
		c := NewClassifier(rules)
		for _, r := range samples {
			before := full.Classify(r.Method, r.Path)
			after := c.Classify(r.Method, r.Path)
			if r == removed {
				if removed.Path == "/anfrage" || hasPrefixRule(rules, removed.Path) {
					// Still covered by a prefix rule.
					continue
				}
				assert.NotEqual(t, before, after, "removing %v should change its class", removed)
				continue
			}
			assert.Equal(t, before, after, "removing %v changed %v", removed, r)
		}
	}

	for i, removed := range base.Authenticated {
		rules := DefaultRules()
		rules.Authenticated = append(rules.Authenticated[:i:i], rules.Authenticated[i+1:]...)
		c := NewClassifier(rules)
		assert.Equal(t, Public, c.Classify(removed.Method, removed.Path))
	}
}

func hasPrefixRule(rules Rules, p string) bool {
	for _, pr := range rules.Prefixes {
		if len(pr.Methods) == 0 && (p == pr.Prefix || len(p) > len(pr.Prefix) && p[:len(pr.Prefix)+1] == pr.Prefix+"/") {
			return true
		}
	}
	return false
}

func TestClassifyCustomDefault(t *testing.T) {
	rules := DefaultRules()
	rules.Default = RequiresAuthentication
	c := NewClassifier(rules)

	assert.Equal(t, RequiresAuthentication, c.Classify("GET", "/impressum"))
	assert.Equal(t, Public, c.Classify("GET", "/img/logo.png"))
	assert.Equal(t, RequiresAuthentication, c.Classify("POST", "/img/logo.png"))
	assert.Equal(t, Public, c.Classify("GET", "/"))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "public", Public.String())
	assert.Equal(t, "authenticated", RequiresAuthentication.String())
	assert.Equal(t, "admin", RequiresAdminRole.String())
}
