// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestOutcome is the client-visible result of requesting a one-time link.
type RequestOutcome string

// Request outcomes. OutcomeSent is also returned for unknown emails.
const (
	OutcomeSent            RequestOutcome = "sent"
	OutcomeAlreadyVerified RequestOutcome = "already_verified"
)

// Mailer delivers one-time links. Implementations should not block on
// delivery; a returned error only means the message could not be queued.
type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

// OneTimeConfig configures OneTimeService.
type OneTimeConfig struct {
	VerifyTTL time.Duration
	ResetTTL  time.Duration
	// BaseURL prefixes the links embedded in emails.
	BaseURL string
	// RevokeSessionsOnReset logs the user out everywhere after a reset.
	RevokeSessionsOnReset bool
	Policy                PasswordPolicy
	Logger                *slog.Logger
	Now                   func() time.Time
}

// OneTimeService runs the email verification and password reset flows.
type OneTimeService struct {
	users  UserRepository
	tokens OneTimeTokenRepository
	hasher PasswordHasher
	codec  *TokenCodec
	mailer Mailer
	cfg    OneTimeConfig
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

// NewOneTimeService creates a OneTimeService.
func NewOneTimeService(
	users UserRepository,
	tokens OneTimeTokenRepository,
	hasher PasswordHasher,
	codec *TokenCodec,
	mailer Mailer,
	cfg OneTimeConfig,
) (*OneTimeService, error) {
	switch {
	case users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	case tokens == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("one-time token repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	case codec == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token codec is required")
	case mailer == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("mailer is required")
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = DefaultVerifyTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.Policy == (PasswordPolicy{}) {
		cfg.Policy = DefaultPasswordPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	s := &OneTimeService{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		codec:  codec,
		mailer: mailer,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
		tracer: otel.Tracer(tracerName),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// RequestVerification issues a verification link for email. Unknown
// addresses get OutcomeSent without anything being issued.
func (s *OneTimeService) RequestVerification(ctx context.Context, email string) (RequestOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestVerification")
	defer span.End()

	user, err := s.lookup(ctx, email)
	if err != nil {
		endSpan(span, err)
		return "", err
	}
	if user == nil {
		return OutcomeSent, nil
	}
	if user.Verified {
		return OutcomeAlreadyVerified, nil
	}

	token, err := s.issue(ctx, user, PurposeVerify, s.cfg.VerifyTTL)
	if err != nil {
		endSpan(span, err)
		return "", err
	}

	link := s.cfg.BaseURL + "/auth/verify?token=" + url.QueryEscape(token)
	if err := s.mailer.SendVerification(ctx, user.Email, link); err != nil {
		s.logger.WarnContext(ctx, "failed to queue verification email", "user_id", user.ID, "error", err)
	}
	return OutcomeSent, nil
}

// RequestPasswordReset issues a reset link for email. Unknown addresses get
// OutcomeSent without anything being issued.
func (s *OneTimeService) RequestPasswordReset(ctx context.Context, email string) (RequestOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestPasswordReset")
	defer span.End()

	user, err := s.lookup(ctx, email)
	if err != nil {
		endSpan(span, err)
		return "", err
	}
	if user == nil {
		return OutcomeSent, nil
	}

	token, err := s.issue(ctx, user, PurposeReset, s.cfg.ResetTTL)
	if err != nil {
		endSpan(span, err)
		return "", err
	}

	link := s.cfg.BaseURL + "/auth/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		s.logger.WarnContext(ctx, "failed to queue password reset email", "user_id", user.ID, "error", err)
	}
	return OutcomeSent, nil
}

// VerifyEmail redeems a verification token and marks the user verified.
func (s *OneTimeService) VerifyEmail(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyEmail")
	defer span.End()

	userID, jti, err := s.decode(token, PurposeVerify)
	if err != nil {
		return s.rejected(PurposeVerify)
	}

	err = s.tokens.RedeemVerification(ctx, userID, jti, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrTokenUnusable) {
			return s.rejected(PurposeVerify)
		}
		endSpan(span, err)
		return oops.Code("ONETIME_REDEEM_FAILED").
			With("operation", "redeem verification").
			With("user_id", userID).
			Wrap(err)
	}

	OneTimeTokensTotal.WithLabelValues(string(PurposeVerify), "redeemed").Inc()
	span.SetAttributes(attribute.Int64("user.id", userID))
	s.logger.InfoContext(ctx, "email verified", "user_id", userID)
	return nil
}

// ResetPassword redeems a reset token and stores newPassword. The token is
// not consumed when the new password fails the policy.
func (s *OneTimeService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer span.End()

	userID, jti, err := s.decode(token, PurposeReset)
	if err != nil {
		return s.rejected(PurposeReset)
	}
	if err := s.cfg.Policy.Check(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		endSpan(span, err)
		return oops.Code("ONETIME_REDEEM_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.tokens.RedeemPasswordReset(ctx, PasswordReset{
		UserID:         userID,
		JTI:            jti,
		PasswordHash:   hash,
		At:             s.now().UTC(),
		RevokeSessions: s.cfg.RevokeSessionsOnReset,
	})
	if err != nil {
		if errors.Is(err, ErrTokenUnusable) {
			return s.rejected(PurposeReset)
		}
		endSpan(span, err)
		return oops.Code("ONETIME_REDEEM_FAILED").
			With("operation", "redeem password reset").
			With("user_id", userID).
			Wrap(err)
	}

	OneTimeTokensTotal.WithLabelValues(string(PurposeReset), "redeemed").Inc()
	s.logger.InfoContext(ctx, "password reset", "user_id", userID, "sessions_revoked", s.cfg.RevokeSessionsOnReset)
	return nil
}

// lookup returns (nil, nil) for an unknown email.
func (s *OneTimeService) lookup(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("ONETIME_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

func (s *OneTimeService) issue(ctx context.Context, user *User, purpose Purpose, ttl time.Duration) (string, error) {
	jti := uuid.NewString()
	token, claims, err := s.codec.Issue(strconv.FormatInt(user.ID, 10), ttl, purpose.TokenType(), jti)
	if err != nil {
		return "", oops.Code("ONETIME_REQUEST_FAILED").With("operation", "issue token").Wrap(err)
	}

	record, err := NewOneTimeToken(user.ID, jti, purpose, claims.ExpiresAt)
	if err != nil {
		return "", oops.Code("ONETIME_REQUEST_FAILED").With("operation", "build record").Wrap(err)
	}
	if err := s.tokens.Issue(ctx, record); err != nil {
		return "", oops.Code("ONETIME_REQUEST_FAILED").
			With("operation", "store token").
			With("user_id", user.ID).
			Wrap(err)
	}

	OneTimeTokensTotal.WithLabelValues(string(purpose), "issued").Inc()
	return token, nil
}

// decode checks signature, expiry and type, and extracts the bound user
// and jti. Any failure is reported uniformly by the caller.
func (s *OneTimeService) decode(token string, purpose Purpose) (int64, string, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return 0, "", err
	}
	if claims.Type != purpose.TokenType() || claims.SessionID == "" {
		return 0, "", ErrTokenUnusable
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", ErrTokenUnusable
	}
	return userID, claims.SessionID, nil
}

func (s *OneTimeService) rejected(purpose Purpose) error {
	OneTimeTokensTotal.WithLabelValues(string(purpose), "rejected").Inc()
	return oops.Code(CodeInvalidOrExpired).Wrap(ErrTokenUnusable)
}
