package handlers

import (
	"net/http"

	"github.com/thefortaiagency/aether-insight/internal/auth"
)

// LoginPageData holds data for the login template
type LoginPageData struct {
	Error string
}

// handleLoginPage renders the login form
func (h *Handlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// If already logged in, go straight to the console
	if h.Auth.GetSessionFromRequest(r) {
		http.Redirect(w, r, "/console", http.StatusFound)
		return
	}

	h.templates.Login.Execute(w, LoginPageData{})
}

// handleLogin processes login form submission
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	password := r.FormValue("password")

	token, ok := h.Auth.Login(password)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		h.templates.Login.Execute(w, LoginPageData{
			Error: "Invalid password",
		})
		return
	}

	auth.SetSessionCookie(w, token)
	http.Redirect(w, r, "/console", http.StatusFound)
}

// handleAPILogin issues a bearer token to the browser extension
func (h *Handlers) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	token, ok := h.Auth.Login(req.Password)
	if !ok {
		respondError(w, Unauthorized("Invalid password"))
		return
	}
	respondOK(w, LoginResponse{Token: token})
}

// handleLogout clears the session and redirects to login
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		h.Auth.Logout(token)
	}

	auth.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}
