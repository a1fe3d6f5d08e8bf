package prober

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/raysh454/probekit/internal/model"
)

// JSONCheck is one predicate over a parsed JSON response body. Field is a
// dot path ("items.0.sku"); empty selects the whole document.
type JSONCheck struct {
	Field    string `yaml:"field" json:"field"`
	Equals   any    `yaml:"equals,omitempty" json:"equals,omitempty"`
	Matches  string `yaml:"matches,omitempty" json:"matches,omitempty"`
	Exists   *bool  `yaml:"exists,omitempty" json:"exists,omitempty"`
	MinItems *int   `yaml:"min_items,omitempty" json:"min_items,omitempty"`
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
	// Capture stores the field's value in Outcome.Observed under this key.
	Capture string `yaml:"capture,omitempty" json:"capture,omitempty"`
}

// EndpointSpec declares one L1/L2 probe.
type EndpointSpec struct {
	Name   string            `yaml:"name" json:"name"`
	Method string            `yaml:"method" json:"method"`
	Path   string            `yaml:"path" json:"path"`
	Body   any               `yaml:"body,omitempty" json:"body,omitempty"`
	Header map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// ExpectStatus is the accepted status set. Empty means any 2xx.
	ExpectStatus []int `yaml:"expect_status,omitempty" json:"expect_status,omitempty"`
	// ExpectJSON requires a parseable JSON body even without Checks.
	ExpectJSON bool        `yaml:"expect_json,omitempty" json:"expect_json,omitempty"`
	Checks     []JSONCheck `yaml:"checks,omitempty" json:"checks,omitempty"`
	// ExpectSelector requires at least one match in an HTML body.
	ExpectSelector string `yaml:"expect_selector,omitempty" json:"expect_selector,omitempty"`

	AuthRequired bool       `yaml:"auth_required,omitempty" json:"auth_required,omitempty"`
	Role         model.Role `yaml:"role,omitempty" json:"role,omitempty"`
	// Render fetches the page through the browser-backed webclient.
	Render bool `yaml:"render,omitempty" json:"render,omitempty"`
}

// Validate checks the spec is executable.
func (s EndpointSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("endpoint spec has no name")
	}
	if s.Path == "" {
		return fmt.Errorf("endpoint %q has no path", s.Name)
	}
	if s.Render && s.method() != http.MethodGet {
		return fmt.Errorf("endpoint %q: render requires GET", s.Name)
	}
	for _, c := range s.Checks {
		if c.Matches != "" {
			if _, err := compilePattern(c.Matches); err != nil {
				return fmt.Errorf("endpoint %q: check %q: %w", s.Name, c.Field, err)
			}
		}
	}
	return nil
}

func (s EndpointSpec) method() string {
	if s.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(s.Method)
}

func (s EndpointSpec) statusExpected(code int) bool {
	if len(s.ExpectStatus) == 0 {
		return code >= 200 && code < 300
	}
	for _, c := range s.ExpectStatus {
		if c == code {
			return true
		}
	}
	return false
}

func (s EndpointSpec) wantsJSON() bool {
	return s.ExpectJSON || len(s.Checks) > 0
}

// Challenge reports whether code is an auth challenge status.
func Challenge(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
