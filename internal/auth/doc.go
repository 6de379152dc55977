// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package auth authenticates FitDojo users and manages their sessions.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates an unverified User with a normalized email
//   - NewSession - creates a Session with truncated client metadata
//   - NewOneTimeToken - creates a verify or reset OneTimeToken record
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Tokens
//
// TokenCodec signs HS256 tokens carrying sub, iat, exp, an optional type
// and an optional jti. Access and refresh tokens issued at login share the
// jti of the session row they belong to; a token whose jti has no session
// row is rejected even when its signature and expiry are valid.
//
// # Services
//
//   - Authenticator - authenticate, login, refresh, logout, logout-all, session listing
//   - RegistrationService - account creation
//   - OneTimeService - email verification and password reset links
//   - Sweeper - removal of idle sessions and dead one-time tokens
//
// Services are created with New* constructors that validate dependencies.
package auth
