package handlers

import (
	"encoding/json"
	"net/http"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login authenticates against the backends, new one first
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if loginReq.Email == "" || loginReq.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	session, err := r.auth.Login(req.Context(), loginReq.Email, loginReq.Password)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// loginOffline re-authenticates against locally cached credentials when
// no backend is reachable
func (r *Router) loginOffline(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	session, err := r.auth.LoginOffline(loginReq.Email, loginReq.Password)
	if err != nil {
		respondClassified(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// logout ends the session everywhere it is recorded
func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	r.auth.Logout(req.Context())
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// session returns the active session, or 404 when none exists
func (r *Router) session(w http.ResponseWriter, req *http.Request) {
	session := r.auth.Current()
	if session == nil {
		respondError(w, http.StatusNotFound, "No active session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}
