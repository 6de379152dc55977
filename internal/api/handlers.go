// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package api

import (
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/transport"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	auth.Profile
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"is_verified"`
	auth.Profile
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	CSRFToken    string `json:"csrf_token,omitempty"`
}

type sessionResponse struct {
	ID         int64     `json:"id"`
	IP         *string   `json:"ip"`
	UserAgent  *string   `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IsCurrent  bool      `json:"is_current"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Revoked *int64 `json:"revoked,omitempty"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Verified: u.Verified, Profile: u.Profile}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to FitDojo"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	user, err := s.registration.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := s.auth.Login(r.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        transport.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.writeTokens(w, r, &res.Tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, _, _ := s.transport.ExtractRefresh(r)
	pair, err := s.auth.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.writeTokens(w, r, pair)
}

// writeTokens sets the auth and CSRF cookies and echoes the pair in the
// body for bearer clients.
func (s *Server) writeTokens(w http.ResponseWriter, r *http.Request, pair *auth.TokenPair) {
	csrf, err := s.transport.IssueCSRF(w)
	if err != nil {
		writeError(w, r, s.logger, oops.Code("API_CSRF_ISSUE_FAILED").Wrap(err))
		return
	}
	s.transport.SetAuthCookies(w, pair.AccessToken, pair.RefreshToken)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		CSRFToken:    csrf,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, newUserResponse(id.User))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	views, err := s.auth.ListSessions(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, sessionResponse{
			ID:         v.ID,
			IP:         optional(v.IP),
			UserAgent:  optional(v.UserAgent),
			CreatedAt:  v.CreatedAt,
			LastSeenAt: v.LastSeenAt,
			IsCurrent:  v.IsCurrent,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	if err := s.auth.Logout(r.Context(), id); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.transport.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged_out"})
}

// handleLogoutAll revokes the caller's other sessions. The caller's own
// cookies stay in place.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	n, err := s.auth.LogoutAll(r.Context(), id)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Revoked: &n})
}

// emailParam reads the address from ?email= or a {"email": ...} body.
func emailParam(w http.ResponseWriter, r *http.Request) (string, error) {
	if e := r.URL.Query().Get("email"); e != "" {
		return e, nil
	}
	var req emailRequest
	if err := readJSON(w, r, &req); err != nil {
		return "", err
	}
	return req.Email, nil
}

func (s *Server) handleRequestVerify(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	outcome, err := s.oneTime.RequestVerification(r.Context(), email)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(outcome)})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.oneTime.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "verified"})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	email, err := emailParam(w, r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	outcome, err := s.oneTime.RequestPasswordReset(r.Context(), email)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(outcome)})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.oneTime.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "password_updated"})
}
