package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/probekit/internal/model"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// User is a fixture account.
type User struct {
	Email     string `yaml:"email" json:"email"`
	Password  string `yaml:"password" json:"password"`
	FirstName string `yaml:"firstName" json:"firstName"`
	LastName  string `yaml:"lastName" json:"lastName"`
	Role      string `yaml:"role" json:"role"`
}

// Item is a fixture inventory item.
type Item struct {
	SKU      string `yaml:"sku" json:"sku"`
	Name     string `yaml:"name" json:"name"`
	Size     string `yaml:"size" json:"size"`
	Quantity int    `yaml:"quantity" json:"quantity"`
}

// Fixtures is the deterministic baseline the seeder creates.
type Fixtures struct {
	Users []User `yaml:"users"`
	Items []Item `yaml:"items"`
}

// DefaultFixtures returns the embedded baseline.
func DefaultFixtures() (Fixtures, error) {
	return Parse(defaultFixtures)
}

// LoadFixtures reads fixtures from path, or the embedded baseline when path
// is empty.
func LoadFixtures(path string) (Fixtures, error) {
	if path == "" {
		return DefaultFixtures()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a fixture document.
func Parse(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	for i, u := range f.Users {
		if !strings.Contains(u.Email, "@") || u.Password == "" {
			return Fixtures{}, fmt.Errorf("fixture user %d: email and password are required", i+1)
		}
	}
	for i, it := range f.Items {
		if it.SKU == "" || it.Name == "" {
			return Fixtures{}, fmt.Errorf("fixture item %d: sku and name are required", i+1)
		}
	}
	return f, nil
}

// WithCredential appends an account for cred unless one with the same email
// is already listed, so the configured principals can always log in.
func (f Fixtures) WithCredential(cred model.Credential) Fixtures {
	if cred.Empty() {
		return f
	}
	for _, u := range f.Users {
		if strings.EqualFold(u.Email, cred.Email) {
			return f
		}
	}
	out := f
	out.Users = append(append([]User(nil), f.Users...), User{
		Email:     cred.Email,
		Password:  cred.Password,
		FirstName: "Probe",
		LastName:  "Account",
		Role:      string(cred.Role),
	})
	return out
}
