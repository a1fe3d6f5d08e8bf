package demosut

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/probekit/internal/logging"
)

type pageData struct {
	Title       string
	User        *User
	Error       string
	Message     string
	Reference   string
	Form        map[string]string
	CallbackURL string
	Section     string
	Items       []Item
	CartCount   int
	CartLimit   int
	Users       []User
	Requests    []Request
	Donations   []Submission
}

var pages = template.Must(template.New("pages").Parse(pageTemplates))

func (s *Server) pageRoutes(r chi.Router) {
	r.Get("/", s.page("home", "Sole Support"))
	r.Get("/register", s.page("register", "Create an account"))
	r.Post("/register", s.handleRegisterForm)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLoginForm)
	r.Post("/logout", s.handleLogoutForm)
	r.Get("/shoes", s.handleShoesPage)
	r.Post("/shoes", s.handleShoesAdd)
	r.Get("/contact", s.page("contact", "Contact us"))
	r.Post("/contact", s.handleSubmissionForm("contact", "CT", "body"))
	r.Get("/donate", s.page("donate", "Donate shoes"))
	r.Post("/donate", s.handleSubmissionForm("donation", "DS", "items"))
	r.Get("/volunteer", s.page("volunteer", "Volunteer"))
	r.Post("/volunteer", s.handleSubmissionForm("volunteer", "VOL", "availability"))

	r.With(s.requirePage("")).Get("/account", s.page("account", "My Account"))
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requirePage("admin"))
		r.Get("/", s.page("admin", "Admin dashboard"))
		r.Get("/{section}", s.handleAdminList)
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if u, ok := s.sessionUser(r); ok && data.User == nil {
		data.User = &u
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("rendering page", logging.Field{Key: "page", Value: name}, logging.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Server) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, name, pageData{Title: title})
	}
}

// requirePage redirects anonymous visitors to the login page.
func (s *Server) requirePage(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := s.sessionUser(r)
			if !ok {
				http.Redirect(w, r, "/login?callbackUrl="+url.QueryEscape(r.URL.Path), http.StatusSeeOther)
				return
			}
			if role != "" && u.Role != role {
				s.render(w, r, http.StatusForbidden, "forbidden", pageData{Title: "Forbidden", User: &u})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func formValues(r *http.Request, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = strings.TrimSpace(r.PostForm.Get(k))
	}
	return out
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	f := formValues(r, "firstName", "lastName", "email")
	password := r.PostForm.Get("password")
	fail := func(msg string) {
		s.render(w, r, http.StatusBadRequest, "register", pageData{Title: "Create an account", Error: msg, Form: f})
	}

	body := registerBody{FirstName: f["firstName"], LastName: f["lastName"], Email: f["email"], Password: password}
	if msg := body.validate(); msg != "" {
		fail(msg)
		return
	}
	if password != r.PostForm.Get("confirm_password") {
		fail("Passwords do not match")
		return
	}
	u, err := s.store.CreateUser(r.Context(), User{Email: body.Email, FirstName: body.FirstName, LastName: body.LastName, Role: "user"}, password)
	if errors.Is(err, ErrExists) {
		fail("An account with this email already exists")
		return
	}
	if err != nil {
		fail(err.Error())
		return
	}
	if err := s.startSession(w, r, u, 0); err != nil {
		fail(err.Error())
		return
	}
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "login", pageData{
		Title:       "Sign in",
		CallbackURL: safeCallback(r.URL.Query().Get("callbackUrl"), "/account"),
	})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callback := safeCallback(r.PostForm.Get("callbackUrl"), "/account")
	u, err := s.store.Authenticate(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password"))
	if err != nil {
		s.render(w, r, http.StatusUnauthorized, "login", pageData{
			Title:       "Sign in",
			Error:       "Invalid email or password",
			CallbackURL: callback,
			Form:        formValues(r, "email"),
		})
		return
	}
	if err := s.startSession(w, r, u, 0); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, callback, http.StatusSeeOther)
}

func (s *Server) handleLogoutForm(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) shoesData(r *http.Request, u *User) (pageData, error) {
	items, err := s.store.ListItems(r.Context())
	if err != nil {
		return pageData{}, err
	}
	data := pageData{Title: "Shoes", Items: items, CartLimit: s.cfg.CartLimit, User: u}
	if u != nil {
		cart, err := s.store.CartItems(r.Context(), u.ID)
		if err != nil {
			return pageData{}, err
		}
		data.CartCount = len(cart)
	}
	return data, nil
}

func (s *Server) handleShoesPage(w http.ResponseWriter, r *http.Request) {
	var user *User
	if u, ok := s.sessionUser(r); ok {
		user = &u
	}
	data, err := s.shoesData(r, user)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, "shoes", data)
}

func (s *Server) handleShoesAdd(w http.ResponseWriter, r *http.Request) {
	u, ok := s.sessionUser(r)
	if !ok {
		http.Redirect(w, r, "/login?callbackUrl=/shoes", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	status := http.StatusOK
	var message, errMsg string
	item, err := s.store.ItemByRef(r.Context(), r.PostForm.Get("item_id"))
	switch {
	case err != nil:
		status, errMsg = http.StatusBadRequest, "Item not found"
	default:
		_, err = s.store.AddToCart(r.Context(), u.ID, item.ID, s.cfg.CartLimit)
		switch {
		case errors.Is(err, ErrCartFull):
			status, errMsg = http.StatusBadRequest, CartLimitMessage
		case err != nil:
			status, errMsg = http.StatusInternalServerError, err.Error()
		default:
			message = item.Name + " added to cart"
		}
	}
	data, err := s.shoesData(r, &u)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data.Message = message
	data.Error = errMsg
	s.render(w, r, status, "shoes", data)
}

// handleSubmissionForm serves the HTML variant of a public submission.
// textField names the form field holding the free-text part.
func (s *Server) handleSubmissionForm(kind, prefix, textField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f := formValues(r, "name", "email", textField)
		body := submissionBody{Name: f["name"], Email: f["email"]}
		switch kind {
		case "donation":
			body.Items = f[textField]
		case "volunteer":
			body.Availability = f[textField]
		default:
			body.Message = f[textField]
		}
		tmpl := kind
		if kind == "donation" {
			tmpl = "donate"
		}
		if msg := validateSubmission(kind, body); msg != "" {
			s.render(w, r, http.StatusBadRequest, tmpl, pageData{Title: "Please fix the form", Error: msg, Form: f})
			return
		}
		sub, err := s.store.CreateSubmission(r.Context(), kind, prefix, Submission{Name: body.Name, Email: body.Email, Message: body.text(kind)})
		if err != nil {
			s.render(w, r, http.StatusInternalServerError, tmpl, pageData{Title: "Something went wrong", Error: err.Error(), Form: f})
			return
		}
		s.render(w, r, http.StatusOK, "thanks", pageData{Title: "Thank you", Reference: sub.ReferenceID})
	}
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	data := pageData{Title: "Admin: " + section, Section: section}
	var err error
	switch section {
	case "inventory":
		data.Items, err = s.store.ListItems(r.Context())
	case "requests":
		data.Requests, err = s.store.ListRequests(r.Context(), "")
	case "donations":
		data.Donations, err = s.store.ListSubmissions(r.Context(), "donation")
	case "users":
		data.Users, err = s.store.ListUsers(r.Context())
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, "admin_list", data)
}

const pageTemplates = `
{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 0 auto; padding: 16px; }
a, button, input[type=submit], input[type=button], [role=button] {
  display: inline-block; min-width: 44px; min-height: 44px; line-height: 44px;
  padding: 0 12px; box-sizing: border-box;
}
label { display: block; margin-top: 8px; }
input, textarea { display: block; min-height: 44px; width: 100%; box-sizing: border-box; }
.error { color: #b00020; }
.success { color: #1b5e20; }
.modal { display: none; }
.modal.open { display: block; }
table { border-collapse: collapse; width: 100%; }
td, th { border-bottom: 1px solid #ddd; padding: 4px; text-align: left; }
</style>
</head>
<body>
<nav class="main-nav">
  <a href="/">Home</a>
  <a href="/shoes">Shoes</a>
  <a href="/donate">Donate</a>
  <a href="/volunteer">Volunteer</a>
  <a href="/contact">Contact</a>
  {{if .User}}<a href="/account">Account</a>{{if eq .User.Role "admin"}} <a href="/admin">Admin</a>{{end}}{{else}}<a href="/login">Sign in</a> <a href="/register">Register</a>{{end}}
</nav>
<main>
{{if .Error}}<div class="error" role="alert">{{.Error}}</div>{{end}}
{{if .Message}}<div class="success notice">{{.Message}}</div>{{end}}
{{end}}

{{define "foot"}}</main>
</body>
</html>{{end}}

{{define "home"}}{{template "head" .}}
<h1>Sole Support</h1>
<p>We collect gently used shoes and match them with people who need them.</p>
<a href="/shoes" class="cta">Browse shoes</a>
{{template "foot" .}}{{end}}

{{define "register"}}{{template "head" .}}
<h1>Create an account</h1>
<form method="post" action="/register" id="register-form">
  <label for="firstName">First name</label>
  <input id="firstName" name="firstName" value="{{index .Form "firstName"}}">
  <label for="lastName">Last name</label>
  <input id="lastName" name="lastName" value="{{index .Form "lastName"}}">
  <label for="email">Email</label>
  <input type="email" id="email" name="email" placeholder="you@example.com" value="{{index .Form "email"}}">
  <label for="password">Password</label>
  <input type="password" id="password" name="password">
  <label for="confirmPassword">Confirm password</label>
  <input type="password" id="confirmPassword" name="confirm_password">
  <button type="submit">Create account</button>
</form>
{{template "foot" .}}{{end}}

{{define "login"}}{{template "head" .}}
<h1>Sign in</h1>
<form method="post" action="/login" id="login-form">
  <input type="hidden" name="callbackUrl" value="{{.CallbackURL}}">
  <label for="login-email">Email</label>
  <input type="email" id="login-email" name="email" value="{{index .Form "email"}}">
  <label for="login-password">Password</label>
  <input type="password" id="login-password" name="password">
  <button type="submit">Sign in</button>
</form>
{{template "foot" .}}{{end}}

{{define "account"}}{{template "head" .}}
<h1>My Account</h1>
<p id="account-email">Signed in as {{.User.Email}}</p>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{template "foot" .}}{{end}}

{{define "shoes"}}{{template "head" .}}
<h1>Shoes</h1>
<p>Cart: <span id="cart-count">{{.CartCount}}</span> / {{.CartLimit}}</p>
<ul class="catalog">
{{range .Items}}
  <li class="shoe" data-sku="{{.SKU}}">
    <span class="shoe-name">{{.Name}}</span> (size {{.Size}})
    <form method="post" action="/shoes"><input type="hidden" name="item_id" value="{{.ID}}"><button type="submit" class="add-to-cart">Add to cart</button></form>
  </li>
{{end}}
</ul>
{{template "foot" .}}{{end}}

{{define "contact"}}{{template "head" .}}
<h1>Contact us</h1>
<form method="post" action="/contact" id="contact-form">
  <label for="contact-name">Name</label>
  <input id="contact-name" name="name" value="{{index .Form "name"}}">
  <input type="email" id="contact-email" name="email" placeholder="Your email" value="{{index .Form "email"}}">
  <label for="msg">Message</label>
  <textarea id="msg" name="body" placeholder="How can we help?">{{index .Form "body"}}</textarea>
  <button type="submit">Send message</button>
</form>
{{template "foot" .}}{{end}}

{{define "donate"}}{{template "head" .}}
<h1>Donate shoes</h1>
<button type="button" id="open-donate">Donate now</button>
<div id="donate-modal" class="modal{{if .Error}} open{{end}}" role="dialog">
  <form method="post" action="/donate" id="donate-form">
    <label for="donor-name">Name</label>
    <input id="donor-name" name="name" value="{{index .Form "name"}}">
    <label for="donor-email">Email</label>
    <input type="email" id="donor-email" name="email" value="{{index .Form "email"}}">
    <label for="items">What are you donating?</label>
    <textarea id="items" name="items">{{index .Form "items"}}</textarea>
    <button type="submit">Submit donation</button>
  </form>
</div>
<script>
document.getElementById("open-donate").addEventListener("click", function () {
  document.getElementById("donate-modal").classList.add("open");
});
</script>
{{template "foot" .}}{{end}}

{{define "volunteer"}}{{template "head" .}}
<h1>Volunteer</h1>
<form method="post" action="/volunteer" id="volunteer-form">
  <label for="vol-name">Name</label>
  <input id="vol-name" name="name" value="{{index .Form "name"}}">
  <label for="vol-email">Email</label>
  <input type="email" id="vol-email" name="email" value="{{index .Form "email"}}">
  <input id="vol-availability" name="availability" placeholder="Availability" value="{{index .Form "availability"}}">
  <button type="submit">Sign up</button>
</form>
{{template "foot" .}}{{end}}

{{define "thanks"}}{{template "head" .}}
<h1>Thank you!</h1>
<p class="success">Your reference number is <strong id="reference-id">{{.Reference}}</strong></p>
<a href="/">Back to home</a>
{{template "foot" .}}{{end}}

{{define "forbidden"}}{{template "head" .}}
<h1>Forbidden</h1>
<p>You do not have access to this page.</p>
{{template "foot" .}}{{end}}

{{define "admin"}}{{template "head" .}}
<h1>Admin dashboard</h1>
<ul class="admin-links">
  <li><a href="/admin/inventory">Inventory</a></li>
  <li><a href="/admin/requests">Requests</a></li>
  <li><a href="/admin/donations">Donations</a></li>
  <li><a href="/admin/users">Users</a></li>
</ul>
{{template "foot" .}}{{end}}

{{define "admin_list"}}{{template "head" .}}
<h1>{{.Title}}</h1>
<a href="/admin">Back to dashboard</a>
<table class="admin-table" id="admin-{{.Section}}">
{{if eq .Section "inventory"}}
  <tr><th>SKU</th><th>Name</th><th>Size</th><th>Qty</th></tr>
  {{range .Items}}<tr><td>{{.SKU}}</td><td>{{.Name}}</td><td>{{.Size}}</td><td>{{.Quantity}}</td></tr>{{end}}
{{else if eq .Section "requests"}}
  <tr><th>ID</th><th>Item</th><th>Status</th></tr>
  {{range .Requests}}<tr><td>{{.ID}}</td><td>{{.ItemID}}</td><td>{{.Status}}</td></tr>{{end}}
{{else if eq .Section "donations"}}
  <tr><th>Reference</th><th>Name</th><th>Items</th></tr>
  {{range .Donations}}<tr><td>{{.ReferenceID}}</td><td>{{.Name}}</td><td>{{.Message}}</td></tr>{{end}}
{{else}}
  <tr><th>Email</th><th>Role</th></tr>
  {{range .Users}}<tr><td>{{.Email}}</td><td>{{.Role}}</td></tr>{{end}}
{{end}}
</table>
{{template "foot" .}}{{end}}
`
