// ============================================================================
// internal/httpapi/handlers_auth.go
// Login, logout, session introspection, password change
// ============================================================================

package httpapi

import (
	"net/http"
)

// LoginRequest mirrors the JSON input for POST /api/auth/login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// StudentLoginRequest mirrors the JSON input for POST /api/auth/student-login
type StudentLoginRequest struct {
	Regno    string `json:"regno" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest mirrors the JSON input for POST /api/auth/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// Login handles POST /api/auth/login (staff accounts)
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	res, err := s.auth.LoginUser(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// StudentLogin handles POST /api/auth/student-login
func (s *Server) StudentLogin(w http.ResponseWriter, r *http.Request) {
	var req StudentLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	res, err := s.auth.LoginStudent(r.Context(), req.Regno, req.Password, r.RemoteAddr)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Logout handles POST /api/auth/logout
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := ExtractToken(r)
	if err != nil {
		// No token means nothing to revoke
		WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
		return
	}

	if err := s.auth.Logout(r.Context(), ActorFrom(r), token); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /api/auth/me
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ActorFrom(r))
}

// ChangePassword handles POST /api/auth/change-password
func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.validateBody(&req); err != nil {
		HandleError(w, err)
		return
	}

	err := s.auth.ChangePassword(r.Context(), ActorFrom(r), req.CurrentPassword, req.NewPassword, s.cfg.Security.BCryptCost)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}
