// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package api exposes the authentication engine over HTTP.
//
// Every route answers JSON. Credentials arrive either as an
// Authorization: Bearer header or as the access/refresh cookies written at
// login; cookie-authenticated state changes must echo the CSRF cookie in
// the X-CSRF-Token header.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/transport"
)

// Authenticator is the part of auth.Authenticator the API drives.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, expected auth.TokenType) (*auth.Identity, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, id *auth.Identity) error
	LogoutAll(ctx context.Context, id *auth.Identity) (int64, error)
	ListSessions(ctx context.Context, id *auth.Identity) ([]auth.SessionView, error)
}

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.User, error)
}

// OneTimeFlows runs the email verification and password reset flows.
type OneTimeFlows interface {
	RequestVerification(ctx context.Context, email string) (auth.RequestOutcome, error)
	RequestPasswordReset(ctx context.Context, email string) (auth.RequestOutcome, error)
	VerifyEmail(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

var (
	_ Authenticator = (*auth.Authenticator)(nil)
	_ Registrar     = (*auth.RegistrationService)(nil)
	_ OneTimeFlows  = (*auth.OneTimeService)(nil)
)

// Config wires a Server.
type Config struct {
	Auth         Authenticator
	Registration Registrar
	OneTime      OneTimeFlows
	Transport    *transport.Transport
	Logger       *slog.Logger

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
}

// Server holds the HTTP handlers.
type Server struct {
	auth         Authenticator
	registration Registrar
	oneTime      OneTimeFlows
	transport    *transport.Transport
	logger       *slog.Logger
	trustProxy   bool
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Auth == nil:
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("authenticator is required")
	case cfg.Registration == nil:
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("registration service is required")
	case cfg.OneTime == nil:
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("one-time token service is required")
	case cfg.Transport == nil:
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("transport is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:         cfg.Auth,
		registration: cfg.Registration,
		oneTime:      cfg.OneTime,
		transport:    cfg.Transport,
		logger:       logger.With("component", "api"),
		trustProxy:   cfg.TrustProxyHeaders,
	}, nil
}

// Routes returns the router with all middleware installed.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/request-verify", s.handleRequestVerify)
		r.Get("/verify", s.handleVerify)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)

		r.With(s.RequireCSRF).Post("/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireCSRF)
			r.Use(s.RequireAuth)
			r.Get("/me", s.handleMe)
			r.Get("/sessions", s.handleSessions)
			r.Post("/logout", s.handleLogout)
			r.Post("/logout-all", s.handleLogoutAll)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})
	return r
}
