package scenario

import (
	"fmt"
	"net/http"
	"time"

	"github.com/raysh454/probekit/internal/browser"
	"github.com/raysh454/probekit/internal/model"
	"github.com/raysh454/probekit/internal/prober"
)

var alertErrors = []browser.Indicator{{Selector: `[role=alert]`}, {Selector: `.error`}}

func exists() *bool { b := true; return &b }
func atLeast(n int) *int { return &n }

// RegisterLoginAccount: a new account registers, signs out, signs back in
// and reaches the account page.
func RegisterLoginAccount() Scenario {
	const (
		email    = "reg-" + browser.RandPlaceholder + "@example.com"
		password = "TestPass123!"
	)
	return Scenario{
		Name:        "register-login-account",
		Description: "register, log in and reach the account page",
		Steps: []Step{
			{Name: "register", Kind: KindFormProbe, Form: &browser.FormSpec{
				Page: "/register",
				Fields: browser.Fields{
					{Name: "firstName", Value: "Reg"},
					{Name: "lastName", Value: "Test"},
					{Name: "email", Value: email},
					{Name: "password", Value: password},
					{Name: "confirmPassword", Value: password},
				},
				Success: []browser.Indicator{{URLContains: "/account"}},
				Errors:  alertErrors,
			}},
			{Name: "sign-out", Kind: KindFormProbe, Form: &browser.FormSpec{
				Page:            "/account",
				Submit:          `form[action="/logout"] [type=submit]`,
				RedirectSuccess: true,
			}},
			{Name: "login", Kind: KindFormProbe, Form: &browser.FormSpec{
				Page: "/login",
				Fields: browser.Fields{
					{Name: "email", Value: email},
					{Name: "password", Value: password},
				},
				Success: []browser.Indicator{{URLContains: "/account"}},
				Errors:  alertErrors,
			}},
			{Name: "account", Kind: KindFormProbe, Form: &browser.FormSpec{
				Page:     "/account",
				ListPage: true,
			}},
		},
	}
}

func addToCart(n int, success browser.Indicator, errs []browser.Indicator) *browser.FormSpec {
	return &browser.FormSpec{
		Page:    "/shoes",
		Submit:  fmt.Sprintf(`li.shoe:nth-of-type(%d) .add-to-cart`, n),
		Success: []browser.Indicator{success},
		Errors:  errs,
	}
}

func cartCount(want int) *prober.EndpointSpec {
	return &prober.EndpointSpec{
		Path:       "/api/cart",
		ExpectJSON: true,
		Checks:     []prober.JSONCheck{{Field: "count", Equals: want}},
	}
}

// CartLimit: two items fit in the cart, the third shows the limit notice.
func CartLimit(limitText string) Scenario {
	if limitText == "" {
		limitText = "Cart Limit Reached"
	}
	return Scenario{
		Name:        "cart-limit",
		Description: "add two items, the third add reports the cart limit",
		BrowserRole: model.RoleUser,
		Steps: []Step{
			{Name: "reset-cart", Kind: KindAPIProbe, Role: model.RoleUser,
				Endpoint: &prober.EndpointSpec{Method: http.MethodDelete, Path: "/api/cart"}},
			{Name: "browse", Kind: KindFormProbe, Form: &browser.FormSpec{Page: "/shoes", ListPage: true}},
			{Name: "add-first", Kind: KindFormProbe, Form: addToCart(1, browser.Indicator{Text: "added to cart"}, alertErrors)},
			{Name: "add-second", Kind: KindFormProbe, Form: addToCart(2, browser.Indicator{Text: "added to cart"}, alertErrors)},
			{Name: "cart-count", Kind: KindAPIProbe, Role: model.RoleUser, Endpoint: cartCount(2)},
			{Name: "add-third", Kind: KindFormProbe, Form: addToCart(3, browser.Indicator{Text: limitText}, nil)},
			{Name: "count-unchanged", Kind: KindAPIProbe, Role: model.RoleUser, Independent: true, Endpoint: cartCount(2)},
		},
	}
}

// RequestProtection: request creation is challenged without a session and
// created with one, and the admin listing shows it.
func RequestProtection() Scenario {
	body := map[string]any{"notes": "probe request " + browser.RandPlaceholder}
	return Scenario{
		Name:        "request-protection",
		Description: "request creation requires a signed in user",
		Steps: []Step{
			{Name: "anonymous-create", Kind: KindAPIProbe, ExpectChallenge: true,
				Endpoint: &prober.EndpointSpec{Method: http.MethodPost, Path: "/api/requests", Body: body}},
			{Name: "user-create", Kind: KindAPIProbe, Role: model.RoleUser,
				Endpoint: &prober.EndpointSpec{
					Method:       http.MethodPost,
					Path:         "/api/requests",
					Body:         body,
					ExpectStatus: []int{http.StatusCreated},
					Checks:       []prober.JSONCheck{{Field: "id", Exists: exists(), Capture: "request_id"}},
				}},
			settleStep("settle", 250*time.Millisecond),
			{Name: "admin-sees-request", Kind: KindExpectDBState, DB: &DBState{
				Path:   "/api/admin/requests",
				Checks: []prober.JSONCheck{{Field: "requests", MinItems: atLeast(1)}},
			}},
		},
	}
}

// AdminPages: the admin signs in and every admin list page is reachable.
func AdminPages() Scenario {
	steps := []Step{
		{Name: "admin-verify", Kind: KindAPIProbe, Role: model.RoleAdmin,
			Endpoint: &prober.EndpointSpec{Path: "/api/admin/settings", AuthRequired: true, ExpectJSON: true}},
	}
	for _, page := range browser.AdminListPages() {
		p := page
		p.Role = ""
		steps = append(steps, Step{Name: page.Name, Kind: KindFormProbe, Form: &p})
	}
	return Scenario{
		Name:        "admin-pages",
		Description: "admin list pages are accessible to the admin",
		BrowserRole: model.RoleAdmin,
		Steps:       steps,
	}
}

// PublicForms: contact, donation and volunteer forms yield reference ids.
func PublicForms() Scenario {
	contact, donation, volunteer := browser.ContactForm(), browser.DonationForm(), browser.VolunteerForm()
	contact.Name, donation.Name, volunteer.Name = "", "", ""
	return Scenario{
		Name:        "public-forms",
		Description: "public submission forms return reference ids",
		Steps: []Step{
			{Name: "contact-form", Kind: KindFormProbe, Form: &contact},
			{Name: "donation-form", Kind: KindFormProbe, Form: &donation},
			{Name: "volunteer-form", Kind: KindFormProbe, Form: &volunteer},
			{Name: "donation-api", Kind: KindAPIProbe, Endpoint: &prober.EndpointSpec{
				Method: http.MethodPost,
				Path:   "/api/donations",
				Body: map[string]any{
					"name":  "Probe Donor",
					"email": "donor-" + browser.RandPlaceholder + "@example.com",
					"items": "One pair of boots",
				},
				ExpectStatus: []int{http.StatusCreated},
				Checks: []prober.JSONCheck{{
					Field: "referenceId", Matches: `^DS-[A-Z]{4}-\d{4}$`, Capture: "reference_id",
				}},
			}},
			{Name: "donation-reference", Kind: KindAssertOutcome, Assert: &Assertion{
				Step: "donation-form", Status: model.StepPassed,
				Observed: "reference_id", Matches: browser.ReferencePattern,
			}},
			{Name: "contact-reference", Kind: KindAssertOutcome, Independent: true, Assert: &Assertion{
				Step: "contact-form", Observed: "reference_id", Matches: browser.ReferencePattern,
			}},
		},
	}
}

// Canonical returns the built-in journeys in run order.
func Canonical(limitText string) []Scenario {
	return []Scenario{
		RegisterLoginAccount(),
		CartLimit(limitText),
		RequestProtection(),
		AdminPages(),
		PublicForms(),
	}
}

// settleStep is a short pause some SUTs need between writes and reads.
func settleStep(name string, d time.Duration) Step {
	return Step{Name: name, Kind: KindSleep, Duration: d, Independent: true}
}
