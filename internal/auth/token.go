// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// TokenType is the logical purpose a signed token was issued for.
type TokenType string

// Token types.
const (
	TokenUntyped TokenType = ""
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenVerify  TokenType = "verify"
	TokenReset   TokenType = "reset"
)

// Valid reports whether t is a known token type. The untyped token is valid.
func (t TokenType) Valid() bool {
	switch t {
	case TokenUntyped, TokenAccess, TokenRefresh, TokenVerify, TokenReset:
		return true
	}
	return false
}

// Token codec settings.
const (
	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32
	// ClockSkewLeeway is tolerated on exp and iat checks.
	ClockSkewLeeway = 5 * time.Second
)

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Type      TokenType
	// SessionID is the jti binding the token to a session or one-time token
	// record. Empty when the token was issued unbound.
	SessionID string
}

// TTL returns the lifetime the token was issued with.
func (c Claims) TTL() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// wireClaims is the JSON shape signed into the token.
type wireClaims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 tokens.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a TokenCodec signing with secret.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("AUTH_WEAK_SECRET").
			With("min_length", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}

	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(ClockSkewLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Issue signs a token for subject valid for ttl. The ttl is truncated to
// whole seconds so that ExpiresAt - IssuedAt == ttl survives encoding.
func (c *TokenCodec) Issue(subject string, ttl time.Duration, typ TokenType, sessionID string) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").Errorf("subject cannot be empty")
	}
	if !typ.Valid() {
		return "", Claims{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("type", string(typ)).Errorf("unknown token type")
	}
	ttl = ttl.Truncate(time.Second)
	if ttl <= 0 {
		return "", Claims{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("ttl", ttl.String()).Errorf("ttl must be at least one second")
	}

	iat := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: iat.Add(ttl),
		Type:      typ,
		SessionID: sessionID,
	}

	wire := wireClaims{
		Type: string(typ),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        sessionID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("operation", "sign token").Wrap(err)
	}
	return signed, claims, nil
}

// Verify checks signature, algorithm, required claims and expiry. Every
// failure yields the same AUTH_INVALID_TOKEN error wrapping ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, invalidToken()
	}

	var wire wireClaims
	parsed, err := c.parser.ParseWithClaims(token, &wire, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, invalidToken()
	}

	if wire.Subject == "" || wire.IssuedAt == nil || wire.ExpiresAt == nil {
		return Claims{}, invalidToken()
	}
	typ := TokenType(wire.Type)
	if !typ.Valid() {
		return Claims{}, invalidToken()
	}

	return Claims{
		Subject:   wire.Subject,
		IssuedAt:  wire.IssuedAt.UTC(),
		ExpiresAt: wire.ExpiresAt.UTC(),
		Type:      typ,
		SessionID: wire.ID,
	}, nil
}

func invalidToken() error {
	return oops.Code(CodeInvalidToken).Wrap(ErrInvalidToken)
}
