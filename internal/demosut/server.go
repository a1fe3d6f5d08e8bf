package demosut

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/probekit/internal/logging"
)

const (
	SessionCookie = "sut.session-token"
	CSRFCookie    = "sut.csrf-token"
	// CartLimitMessage is shown by both the API and the catalog page.
	CartLimitMessage = "Cart Limit Reached"
)

// Server is a small donation store that implements the surface the harness
// probes: credential login, JSON APIs and HTML forms.
type Server struct {
	cfg    Config
	store  *Store
	router chi.Router
	logger logging.Logger
	now    func() time.Time
}

// NewServer creates a Server with a fresh in-memory store, the bootstrap
// admin and the starter catalog.
func NewServer(cfg Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}

	store, err := NewStore()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if cfg.AdminEmail != "" {
		_, err := store.CreateUser(ctx, User{Email: cfg.AdminEmail, FirstName: "Site", LastName: "Admin", Role: "admin"}, cfg.AdminPassword)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	for _, it := range cfg.StarterCatalog {
		if _, err := store.CreateItem(ctx, it); err != nil && !errors.Is(err, ErrExists) {
			store.Close()
			return nil, fmt.Errorf("starter catalog: %w", err)
		}
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		router: chi.NewRouter(),
		logger: logger.With(logging.Field{Key: "component", Value: "demosut"}),
		now:    time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Get("/api/health", s.handleHealth)

	r.Get("/api/auth/csrf", s.handleCSRF)
	r.Post("/api/auth/callback/credentials", s.handleCallback)
	r.Get("/api/auth/session", s.handleSession)
	r.Post("/api/auth/signout", s.handleSignout)

	r.Post("/api/register", s.handleAPIRegister)
	r.Get("/api/inventory", s.handleListInventory)
	r.Post("/api/donations", s.handleSubmission("donation", "DS"))
	r.Post("/api/contact", s.handleSubmission("contact", "CT"))
	r.Post("/api/volunteer", s.handleSubmission("volunteer", "VOL"))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPI(""))
		r.Get("/api/user/profile", s.handleProfile)
		r.Get("/api/cart", s.handleGetCart)
		r.Post("/api/cart", s.handleAddToCart)
		r.Delete("/api/cart", s.handleClearCart)
		r.Get("/api/requests", s.handleListOwnRequests)
		r.Post("/api/requests", s.handleCreateRequest)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAPI("admin"))
		r.Get("/settings", s.handleSettings)
		r.Get("/users", s.handleAdminUsers)
		r.Post("/users", s.handleAdminCreateUser)
		r.Get("/inventory", s.handleListInventory)
		r.Post("/inventory", s.handleAdminCreateItem)
		r.Get("/requests", s.handleAdminRequests)
		r.Get("/donations", s.handleAdminDonations)
	})

	s.pageRoutes(r)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Store exposes the backing store for tests.
func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) Close() error {
	return s.store.Close()
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// --- sessions ---

type ctxKey struct{}

func userFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// sessionUser returns the user of an active (settled, unexpired) session.
func (s *Server) sessionUser(r *http.Request) (User, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return User{}, false
	}
	u, readyAt, err := s.store.SessionUser(r.Context(), c.Value)
	if err != nil {
		return User{}, false
	}
	if s.now().Before(readyAt) {
		return User{}, false
	}
	return u, true
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u User, settle time.Duration) error {
	now := s.now()
	token, err := s.store.CreateSession(r.Context(), u.ID, now.Add(settle), now.Add(s.cfg.SessionTTL))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(s.cfg.SessionTTL),
	})
	return nil
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if err := s.store.DeleteSession(r.Context(), c.Value); err != nil {
			s.logger.Warn("deleting session", logging.Field{Key: "error", Value: err.Error()})
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
}

// requireAPI rejects requests without an active session with 401 and, when
// role is set, requests from other roles with 403.
func (s *Server) requireAPI(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := s.sessionUser(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if role != "" && u.Role != role {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
		})
	}
}
