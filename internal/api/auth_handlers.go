// Package api provides HTTP handlers for sign-in, sign-up and sessions.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/models"
)

// AdminCookieName carries the admin gate session during sign-up.
const AdminCookieName = "alienchat_admin"

// credentialsRequest is the body of the sign-in, sign-up and admin gate endpoints.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned after a successful sign-in.
type sessionResponse struct {
	User      auth.User `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type userHandler func(w http.ResponseWriter, r *http.Request, sess auth.Session)

type workspaceHandler func(w http.ResponseWriter, r *http.Request, sess auth.Session, ws *workspace)

// requireUser resolves the caller's session and rejects guests and admin gate passes.
func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Lookup(r.Context(), auth.TokenFromRequest(r))
		if err != nil || sess.Admin || sess.User.UID == "" {
			if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
				slog.Error("Server.requireUser: session lookup failed", "error", err)
			}
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Sign in required"))
			return
		}
		next(w, r, sess)
	}
}

// requireWorkspace is requireUser plus the caller's conversation store and engine.
func (s *Server) requireWorkspace(next workspaceHandler) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request, sess auth.Session) {
		ws, err := s.workspaces.get(r.Context(), sess.User)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, sess, ws)
	})
}

func (s *Server) adminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.admin.Check(req.Email, req.Password) {
		slog.Warn("Server.adminLoginHandler: admin gate rejected", "email", req.Email)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid admin credentials"))
		return
	}
	sess, err := s.sessions.CreateAdmin(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	s.setCookie(w, AdminCookieName, sess.Token, sess.ExpiresAt)
	slog.Info("Server.adminLoginHandler: admin gate passed")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Admin verified", map[string]interface{}{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
	}))
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	if !s.hasAdminPass(r) {
		writeJSONResponse(w, http.StatusForbidden, models.Error("Admin verification required"))
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.accounts.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.startSession(w, r, user, http.StatusCreated)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.startSession(w, r, user, http.StatusOK)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if sess, err := s.sessions.Lookup(r.Context(), token); err == nil {
		s.workspaces.signOut(sess.User.UID)
	}
	if token != "" {
		if err := s.sessions.Destroy(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
	}
	s.clearCookie(w, auth.SessionCookieName)
	s.clearCookie(w, AdminCookieName)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Signed out", nil))
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request, sess auth.Session) {
	writeJSONResponse(w, http.StatusOK, models.Success(sess.User))
}

func (s *Server) googleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(auth.ErrGoogleNotConfigured.Error()))
		return
	}
	state, err := auth.GenerateToken()
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.GoogleStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
	http.Redirect(w, r, s.google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) googleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if s.google == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(auth.ErrGoogleNotConfigured.Error()))
		return
	}
	cookie, err := r.Cookie(auth.GoogleStateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		slog.Warn("Server.googleCallbackHandler: state mismatch")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid state"))
		return
	}
	s.clearCookie(w, auth.GoogleStateCookie)

	id, err := s.google.Identify(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Google sign-in failed"))
		return
	}
	user, err := s.accounts.LinkExternal(r.Context(), auth.ProviderGoogle, id.Email, id.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.openSession(w, r, user); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// startSession signs user in and writes the session response.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user auth.User, status int) {
	sess, err := s.openSession(w, r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, status, models.Success(sessionResponse{User: user, Token: sess.Token, ExpiresAt: sess.ExpiresAt}))
}

// openSession creates the session and sets its cookie.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request, user auth.User) (auth.Session, error) {
	sess, err := s.sessions.Create(r.Context(), user)
	if err != nil {
		return auth.Session{}, err
	}
	s.setCookie(w, auth.SessionCookieName, sess.Token, sess.ExpiresAt)
	slog.Info("Server.openSession: user signed in", "uid", user.UID, "email", user.Email)
	return sess, nil
}

func (s *Server) hasAdminPass(r *http.Request) bool {
	token := auth.TokenFromRequest(r)
	if c, err := r.Cookie(AdminCookieName); err == nil && c.Value != "" {
		token = c.Value
	}
	sess, err := s.sessions.Lookup(r.Context(), token)
	return err == nil && sess.Admin
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
