package demosut

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

type registerBody struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

func (b registerBody) validate() string {
	switch {
	case strings.TrimSpace(b.Email) == "":
		return "Email is required"
	case !strings.Contains(b.Email, "@"):
		return "Email is invalid"
	case len(b.Password) < 8:
		return "Password must be at least 8 characters"
	}
	return ""
}

func (s *Server) handleAPIRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	u, err := s.store.CreateUser(r.Context(), User{Email: body.Email, FirstName: body.FirstName, LastName: body.LastName, Role: "user"}, body.Password)
	if errors.Is(err, ErrExists) {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": u.ID, "email": u.Email})
}

func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type submissionBody struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Message      string `json:"message"`
	Items        string `json:"items"`
	Availability string `json:"availability"`
}

func (b submissionBody) text(kind string) string {
	switch kind {
	case "donation":
		return b.Items
	case "volunteer":
		return b.Availability
	}
	return b.Message
}

func validateSubmission(kind string, b submissionBody) string {
	switch {
	case strings.TrimSpace(b.Name) == "":
		return "Name is required"
	case !strings.Contains(b.Email, "@"):
		return "A valid email is required"
	case kind == "contact" && strings.TrimSpace(b.Message) == "":
		return "Message is required"
	case kind == "donation" && strings.TrimSpace(b.Items) == "":
		return "Please describe the items you are donating"
	}
	return ""
}

func (s *Server) handleSubmission(kind, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submissionBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if msg := validateSubmission(kind, body); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		sub, err := s.store.CreateSubmission(r.Context(), kind, prefix, Submission{
			Name:    body.Name,
			Email:   body.Email,
			Message: body.text(kind),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"referenceId": sub.ReferenceID,
			"status":      "received",
		})
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) cartPayload(r *http.Request, userID string) (map[string]any, error) {
	items, err := s.store.CartItems(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "count": len(items), "limit": s.cfg.CartLimit}, nil
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	payload, err := s.cartPayload(r, u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var body struct {
		ItemID string `json:"itemId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.ItemID == "" {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}
	item, err := s.store.ItemByRef(r.Context(), body.ItemID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.store.AddToCart(r.Context(), u.ID, item.ID, s.cfg.CartLimit)
	if errors.Is(err, ErrCartFull) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": CartLimitMessage, "count": count, "limit": s.cfg.CartLimit})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "limit": s.cfg.CartLimit})
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.ClearCart(r.Context(), u.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": 0, "limit": s.cfg.CartLimit})
}

func (s *Server) handleListOwnRequests(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	reqs, err := s.store.ListRequests(r.Context(), u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var body struct {
		ItemID string `json:"itemId"`
		Notes  string `json:"notes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	itemID := ""
	if body.ItemID != "" {
		item, err := s.store.ItemByRef(r.Context(), body.ItemID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Unknown item")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		itemID = item.ID
	}
	req, err := s.store.CreateRequest(r.Context(), u.ID, itemID, body.Notes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"siteName":  "Sole Support",
		"cartLimit": s.cfg.CartLimit,
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := body.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	role := body.Role
	if role != "admin" {
		role = "user"
	}
	u, err := s.store.CreateUser(r.Context(), User{Email: body.Email, FirstName: body.FirstName, LastName: body.LastName, Role: role}, body.Password)
	if errors.Is(err, ErrExists) {
		writeError(w, http.StatusBadRequest, "User with email "+strings.ToLower(body.Email)+" already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleAdminCreateItem(w http.ResponseWriter, r *http.Request) {
	var body Item
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := s.store.CreateItem(r.Context(), body)
	if errors.Is(err, ErrExists) {
		writeError(w, http.StatusBadRequest, "Item with SKU "+body.SKU+" already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.store.ListRequests(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

func (s *Server) handleAdminDonations(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubmissions(r.Context(), "donation")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"donations": subs})
}
