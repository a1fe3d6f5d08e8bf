package demosut

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/raysh454/probekit/internal/logging"
)

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, http.StatusInternalServerError, "csrf generation failed")
		return
	}
	token := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CSRFToken   string `json:"csrfToken"`
	CallbackURL string `json:"callbackUrl"`
	JSON        any    `json:"json"`
}

func (c credentials) wantsJSON() bool {
	switch v := c.JSON.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func parseCredentials(r *http.Request) (credentials, error) {
	var c credentials
	switch mediaType(r) {
	case "application/json":
		if err := decodeJSON(r, &c); err != nil {
			return c, err
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return c, err
		}
		c.Email = r.PostForm.Get("email")
		c.Password = r.PostForm.Get("password")
		c.CSRFToken = r.PostForm.Get("csrfToken")
		c.CallbackURL = r.PostForm.Get("callbackUrl")
		c.JSON = r.PostForm.Get("json")
	default:
		return c, errors.New("unsupported content type")
	}
	return c, nil
}

// handleCallback implements the CSRF-then-callback credential login.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	mt := mediaType(r)
	if s.cfg.CallbackJSONOnly && mt != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}
	if mt != "application/json" && mt != "application/x-www-form-urlencoded" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}

	creds, err := parseCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cookie, err := r.Cookie(CSRFCookie)
	if err != nil || creds.CSRFToken == "" || cookie.Value != creds.CSRFToken {
		writeError(w, http.StatusForbidden, "MissingCSRF")
		return
	}

	u, err := s.store.Authenticate(r.Context(), creds.Email, creds.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		s.logger.Info("credential login rejected", logging.Field{Key: "email", Value: creds.Email})
		writeError(w, http.StatusUnauthorized, "CredentialsSignin")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.startSession(w, r, u, s.cfg.SettleDelay); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	callback := creds.CallbackURL
	if callback == "" {
		callback = "/"
	}
	if creds.wantsJSON() {
		writeJSON(w, http.StatusOK, map[string]string{"url": callback})
		return
	}
	http.Redirect(w, r, callback, http.StatusFound)
}

// handleSession is the "who am I" endpoint. Without an active session it
// answers an empty object.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	u, ok := s.sessionUser(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]string{
			"id":    u.ID,
			"email": u.Email,
			"name":  u.Name(),
			"role":  u.Role,
		},
		"expires": s.now().Add(s.cfg.SessionTTL).UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"url": "/"})
}

// safeCallback keeps redirects on this site.
func safeCallback(raw, fallback string) string {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return raw
	}
	return fallback
}
