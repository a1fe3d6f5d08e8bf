package prober

import (
	"net/http"

	"github.com/raysh454/probekit/internal/model"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// PublicEndpoints is the default L1 catalog.
func PublicEndpoints() []EndpointSpec {
	return []EndpointSpec{
		{
			Name:         "health",
			Path:         "/api/health",
			ExpectStatus: []int{http.StatusOK},
			Checks:       []JSONCheck{{Field: "status", Equals: "ok"}},
		},
		{
			Name:         "inventory",
			Path:         "/api/inventory",
			ExpectStatus: []int{http.StatusOK},
			Checks:       []JSONCheck{{Field: "items", Exists: boolPtr(true)}},
		},
		{Name: "page:home", Path: "/", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "nav a"},
		{Name: "page:shoes", Path: "/shoes", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "h1"},
		{Name: "page:register", Path: "/register", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "form"},
		{Name: "page:login", Path: "/login", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "form"},
		{Name: "page:contact", Path: "/contact", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "form"},
		{Name: "page:donate", Path: "/donate", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "form"},
		{Name: "page:volunteer", Path: "/volunteer", ExpectStatus: []int{http.StatusOK}, ExpectSelector: "form"},
		{
			Name:         "session:anonymous",
			Path:         "/api/auth/session",
			ExpectStatus: []int{http.StatusOK},
			Checks:       []JSONCheck{{Field: "user", Exists: boolPtr(false)}},
		},
		{
			Name:   "donation:reference",
			Method: http.MethodPost,
			Path:   "/api/donations",
			Body: map[string]any{
				"name":  "Probe Donor",
				"email": "probe.donor@example.com",
				"items": "2 pairs of running shoes",
			},
			ExpectStatus: []int{http.StatusOK, http.StatusCreated},
			Checks:       []JSONCheck{{Field: "referenceId", Matches: DonationReferencePattern, Capture: "reference_id"}},
		},
	}
}

// DonationReferencePattern is the shape of donation reference ids.
const DonationReferencePattern = `^DS-[A-Z]{4}-\d{4}$`

// RenderedPages are fetched through the browser so client-side markup is
// present. They are only probed when a renderer is configured.
func RenderedPages() []EndpointSpec {
	return []EndpointSpec{
		{Name: "render:shoes", Path: "/shoes", Render: true, ExpectStatus: []int{http.StatusOK}, ExpectSelector: "li.shoe"},
	}
}

// ProtectedEndpoints is the default L2 catalog. Each entry is probed once
// without a session (protection) and once with a session of its Role.
func ProtectedEndpoints() []EndpointSpec {
	admin := func(name, path string, checks ...JSONCheck) EndpointSpec {
		return EndpointSpec{
			Name: name, Path: path, AuthRequired: true, Role: model.RoleAdmin,
			ExpectStatus: []int{http.StatusOK}, Checks: checks,
		}
	}
	user := func(name, path string, checks ...JSONCheck) EndpointSpec {
		return EndpointSpec{
			Name: name, Path: path, AuthRequired: true, Role: model.RoleUser,
			ExpectStatus: []int{http.StatusOK}, Checks: checks,
		}
	}
	return []EndpointSpec{
		admin("admin:settings", "/api/admin/settings", JSONCheck{Field: "siteName", Exists: boolPtr(true)}),
		admin("admin:users", "/api/admin/users", JSONCheck{Field: "users", MinItems: intPtr(1)}),
		admin("admin:inventory", "/api/admin/inventory", JSONCheck{Field: "items", Exists: boolPtr(true)}),
		admin("admin:requests", "/api/admin/requests", JSONCheck{Field: "requests", Exists: boolPtr(true)}),
		admin("admin:donations", "/api/admin/donations", JSONCheck{Field: "donations", Exists: boolPtr(true)}),
		user("user:profile", "/api/user/profile", JSONCheck{Field: "email", Exists: boolPtr(true), Capture: "email"}),
		user("user:cart", "/api/cart", JSONCheck{Field: "count", Exists: boolPtr(true)}),
		user("user:requests", "/api/requests", JSONCheck{Field: "requests", Exists: boolPtr(true)}),
	}
}

// ProtectionName is the outcome name of the anonymous variant of spec.
func ProtectionName(spec EndpointSpec) string {
	return "protect:" + spec.Name
}
