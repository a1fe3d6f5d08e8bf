package model

import (
	"fmt"
	"net/url"
	"strings"
)

// Env labels the deployment a Target belongs to.
type Env string

const (
	EnvLocal Env = "local"
	EnvProd  Env = "prod"
)

// ParseEnv accepts "local" or "prod" (case-insensitive). Empty means local.
func ParseEnv(s string) (Env, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return EnvLocal, nil
	case "prod", "production":
		return EnvProd, nil
	default:
		return "", fmt.Errorf("unknown env %q (want local|prod)", s)
	}
}

// Target is the SUT instance under probe.
type Target struct {
	// BaseURL is the scheme+host(+port) every path is resolved against.
	BaseURL string `json:"base_url" yaml:"base_url"`
	Env     Env    `json:"env" yaml:"env"`
}

// NewTarget validates and normalizes a base URL. Trailing slashes are dropped
// so that paths can be joined with a plain concatenation.
func NewTarget(raw string, env Env) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse target url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("target url %q must be http or https", raw)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("target url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	if env == "" {
		env = EnvLocal
	}
	return Target{BaseURL: u.String(), Env: env}, nil
}

// URL joins path onto the base URL. Absolute URLs are returned unchanged.
func (t Target) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return t.BaseURL + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return t.BaseURL + path
}

// Host returns the host[:port] of the base URL.
func (t Target) Host() string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Role is the kind of principal a Credential authenticates as.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Credential is a principal to authenticate as.
type Credential struct {
	Role     Role   `json:"role" yaml:"role"`
	Email    string `json:"email" yaml:"email"`
	Password string `json:"-" yaml:"password"`
}

// Empty reports whether the credential cannot be used for a login.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Email) == "" || c.Password == ""
}
