package demosut

import "time"

// Config holds configuration for the demo SUT.
type Config struct {
	// Port is the port on which the demo SUT listens.
	Port int

	// AdminEmail and AdminPassword are the bootstrap admin account.
	AdminEmail    string
	AdminPassword string

	// SettleDelay is how long a session created through the credentials
	// callback is rejected by authenticated endpoints.
	SettleDelay time.Duration

	// SessionTTL bounds the lifetime of a session cookie.
	SessionTTL time.Duration

	// CallbackJSONOnly makes the credentials callback answer 415 to
	// anything but application/json.
	CallbackJSONOnly bool

	// CartLimit is the maximum number of items a cart may hold.
	CartLimit int

	// StarterCatalog is inserted at startup.
	StarterCatalog []Item
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:          9090,
		AdminEmail:    "admin@example.com",
		AdminPassword: "AdminPass123!",
		SessionTTL:    time.Hour,
		CartLimit:     2,
		StarterCatalog: []Item{
			{SKU: "SHOE-RUN-42", Name: "Trail Runner", Size: "42", Quantity: 5},
			{SKU: "SHOE-SNK-38", Name: "Canvas Sneaker", Size: "38", Quantity: 3},
			{SKU: "SHOE-BOT-44", Name: "Winter Boot", Size: "44", Quantity: 2},
		},
	}
}
