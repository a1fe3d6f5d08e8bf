package browser

import "github.com/raysh454/probekit/internal/model"

// ReferencePattern is the documented shape of submission reference ids.
const ReferencePattern = `^[A-Z]{2,3}-[A-Z]{4}-\d{4}$`

var alertErrors = []Indicator{{Selector: `[role=alert]`}, {Selector: `.error`}}

// RegisterForm is the registration journey: a fresh account lands on
// /account.
func RegisterForm() FormSpec {
	return FormSpec{
		Name: "form:register",
		Page: "/register",
		Fields: Fields{
			{"firstName", "Reg"},
			{"lastName", "Test"},
			{"email", "reg-{{rand}}@example.com"},
			{"password", "TestPass123!"},
			{"confirmPassword", "TestPass123!"},
		},
		Success: []Indicator{{URLContains: "/account"}},
		Errors:  alertErrors,
	}
}

// LoginForm signs cred in through the login page.
func LoginForm(cred model.Credential) FormSpec {
	return FormSpec{
		Name: "form:login:" + string(cred.Role),
		Page: "/login",
		Fields: Fields{
			{"email", cred.Email},
			{"password", cred.Password},
		},
		RedirectSuccess: true,
		Errors:          alertErrors,
	}
}

// ContactForm, DonationForm and VolunteerForm are the public submission
// forms. Each yields a reference id.
func ContactForm() FormSpec {
	return FormSpec{
		Name: "form:contact",
		Page: "/contact",
		Fields: Fields{
			{"name", "Probe Contact"},
			{"email", "contact-{{rand}}@example.com"},
			{"message", "Checking the contact form works."},
		},
		Success: []Indicator{{Text: "Thank you"}},
		Errors:  alertErrors,
		Capture: &Capture{Selector: "#reference-id", Pattern: ReferencePattern},
	}
}

func DonationForm() FormSpec {
	return FormSpec{
		Name:        "form:donation",
		Page:        "/donate",
		ModalOpener: "#open-donate",
		Submit:      "#donate-modal [type=submit]",
		Fields: Fields{
			{"name", "Probe Donor"},
			{"email", "donor-{{rand}}@example.com"},
			{"items", "Two pairs of running shoes, size 42"},
		},
		Success: []Indicator{{Text: "Thank you"}},
		Errors:  alertErrors,
		Capture: &Capture{Selector: "#reference-id", Pattern: `^DS-[A-Z]{4}-\d{4}$`},
	}
}

func VolunteerForm() FormSpec {
	return FormSpec{
		Name: "form:volunteer",
		Page: "/volunteer",
		Fields: Fields{
			{"name", "Probe Volunteer"},
			{"email", "volunteer-{{rand}}@example.com"},
			{"availability", "Weekends"},
		},
		Success: []Indicator{{Text: "Thank you"}},
		Errors:  alertErrors,
		Capture: &Capture{Selector: "#reference-id", Pattern: ReferencePattern},
	}
}

// AdminListPages are the admin tables checked with an admin session.
func AdminListPages() []FormSpec {
	var out []FormSpec
	for _, section := range []string{"inventory", "requests", "donations", "users"} {
		out = append(out, FormSpec{
			Name:     "admin-page:" + section,
			Page:     "/admin/" + section,
			ListPage: true,
			Role:     model.RoleAdmin,
		})
	}
	return out
}

// DefaultForms is the L3 catalog. The login form is only included when a
// user credential is configured.
func DefaultForms(user model.Credential) []FormSpec {
	forms := []FormSpec{RegisterForm()}
	if !user.Empty() {
		forms = append(forms, LoginForm(user))
	}
	return append(forms, ContactForm(), DonationForm(), VolunteerForm())
}

// TouchAuditPages are the public pages whose touch targets are audited.
func TouchAuditPages() []string {
	return []string{"/", "/shoes", "/register", "/login", "/contact", "/donate", "/volunteer"}
}
