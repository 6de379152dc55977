// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fitdojo/fitdojo/internal/auth"

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// maxJTIAttempts bounds session creation retries on jti collision.
const maxJTIAttempts = 3

// touchCachePruneSize triggers pruning of expired touch cache entries.
const touchCachePruneSize = 10000

// AuthenticatorConfig holds lifetimes and optional collaborators.
type AuthenticatorConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// TouchInterval coalesces last_seen updates per session. Zero touches
	// on every request.
	TouchInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Identity is the outcome of a successful authentication pass.
type Identity struct {
	User      *User
	SessionID string
	Claims    Claims
}

// TokenPair is an access and refresh token bound to the same session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Access       Claims
	Refresh      Claims
}

// LoginInput carries credentials and client metadata for Login.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User    *User
	Session *Session
	Tokens  TokenPair
}

// Authenticator resolves who is making a request and manages the
// lifecycle of their sessions.
type Authenticator struct {
	users     UserRepository
	sessions  SessionRepository
	hasher    PasswordHasher
	codec     *TokenCodec
	cfg       AuthenticatorConfig
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
	touched   *cache.Cache
	dummyHash string
}

// NewAuthenticator creates an Authenticator. Zero TTLs fall back to the
// package defaults.
func NewAuthenticator(
	users UserRepository,
	sessions SessionRepository,
	hasher PasswordHasher,
	codec *TokenCodec,
	cfg AuthenticatorConfig,
) (*Authenticator, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if codec == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token codec is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	// Unknown emails are verified against this hash so that login takes
	// the same time whether or not the account exists.
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("operation", "compute dummy hash").Wrap(err)
	}

	a := &Authenticator{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		codec:     codec,
		cfg:       cfg,
		logger:    cfg.Logger,
		now:       cfg.Now,
		tracer:    otel.Tracer(tracerName),
		dummyHash: dummy,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if cfg.TouchInterval > 0 {
		// No janitor goroutine; expired entries are pruned inline.
		a.touched = cache.New(cfg.TouchInterval, 0)
	}
	return a, nil
}

// Authenticate resolves token into an Identity. expected is the token type
// this entry point accepts; a typed token of any other type is rejected.
// The bound session is touched on success.
func (a *Authenticator) Authenticate(ctx context.Context, token string, expected TokenType) (*Identity, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate",
		trace.WithAttributes(attribute.String("token.expected_type", string(expected))))
	defer span.End()

	id, err := a.resolve(ctx, token, expected, false)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", id.User.ID))
	return id, nil
}

// resolve runs the authentication stages in order. With strict set an
// untyped token does not satisfy expected.
func (a *Authenticator) resolve(ctx context.Context, token string, expected TokenType, strict bool) (*Identity, error) {
	if token == "" {
		return nil, a.reject(CodeMissingToken, "missing token")
	}

	claims, err := a.codec.Verify(token)
	if err != nil {
		return nil, a.reject(CodeInvalidToken, "invalid or expired token")
	}

	if claims.Type != expected && (strict || claims.Type != TokenUntyped) {
		return nil, a.reject(CodeWrongTokenType, "wrong token type")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, a.reject(CodeUserNotFound, "user not found")
	}
	user, err := a.users.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, a.reject(CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "get user by id").
			With("user_id", userID).
			Wrap(err)
	}

	if claims.SessionID == "" {
		return nil, a.reject(CodeSessionInvalid, "session invalid or expired")
	}
	if _, err := a.sessions.FindByJTIAndUser(ctx, claims.SessionID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, a.reject(CodeSessionInvalid, "session invalid or expired")
		}
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "find session").
			With("user_id", userID).
			Wrap(err)
	}

	a.touch(ctx, claims.SessionID)

	return &Identity{User: user, SessionID: claims.SessionID, Claims: claims}, nil
}

// touch updates last_seen_at, best effort. A failed touch never fails the
// request.
func (a *Authenticator) touch(ctx context.Context, jti string) {
	if a.touched != nil {
		if _, seen := a.touched.Get(jti); seen {
			return
		}
		if a.touched.ItemCount() > touchCachePruneSize {
			a.touched.DeleteExpired()
		}
	}
	if err := a.sessions.Touch(ctx, jti, a.now().UTC()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.WarnContext(ctx, "failed to touch session", "error", err)
		}
		return
	}
	if a.touched != nil {
		a.touched.SetDefault(jti, struct{}{})
	}
}

// Login verifies credentials, opens a new session and issues a token pair
// bound to it. Unknown email and wrong password are indistinguishable to
// the caller; an unverified account is only reported after the password
// has been checked.
func (a *Authenticator) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Login")
	defer span.End()

	res, err := a.login(ctx, in)
	if err != nil {
		endSpan(span, err)
		LoginsTotal.WithLabelValues(loginResult(err)).Inc()
		return nil, err
	}
	LoginsTotal.WithLabelValues(ResultSuccess).Inc()
	span.SetAttributes(attribute.Int64("user.id", res.User.ID))
	return res, nil
}

func (a *Authenticator) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, lookupErr := a.users.GetByEmail(ctx, NormalizeEmail(in.Email))

	var targetHash string
	var userExists bool
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
		targetHash = a.dummyHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := a.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID).
			Wrap(verifyErr)
	}
	if !userExists || !valid {
		return nil, invalidCredentials()
	}

	if !user.Verified {
		return nil, oops.Code(CodeNotVerified).With("user_id", user.ID).Errorf("email is not verified")
	}

	if a.hasher.NeedsRehash(user.PasswordHash) {
		a.rehash(ctx, user, in.Password)
	}

	session, err := a.openSession(ctx, user.ID, in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}

	pair, err := a.issuePair(user.ID, session.JTI)
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return &LoginResult{User: user, Session: session, Tokens: *pair}, nil
}

func (a *Authenticator) rehash(ctx context.Context, user *User, password string) {
	newHash, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to rehash password", "user_id", user.ID, "error", err)
		return
	}
	if err := a.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		a.logger.WarnContext(ctx, "failed to store rehashed password", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = newHash
}

// openSession creates a session row, retrying with a fresh jti on collision.
func (a *Authenticator) openSession(ctx context.Context, userID int64, ip, userAgent string) (*Session, error) {
	var session *Session
	backoff := retry.WithMaxRetries(maxJTIAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := NewSession(userID, NewSessionJTI(), ip, userAgent, a.now())
		if err != nil {
			return err
		}
		if err := a.sessions.Create(ctx, s); err != nil {
			if errors.Is(err, ErrDuplicateJTI) {
				a.logger.WarnContext(ctx, "session jti collision, retrying", "user_id", userID)
				return retry.RetryableError(err)
			}
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			With("user_id", userID).
			Wrap(err)
	}
	return session, nil
}

func (a *Authenticator) issuePair(userID int64, jti string) (*TokenPair, error) {
	subject := strconv.FormatInt(userID, 10)
	access, accessClaims, err := a.codec.Issue(subject, a.cfg.AccessTTL, TokenAccess, jti)
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("operation", "issue access token").Wrap(err)
	}
	refresh, refreshClaims, err := a.codec.Issue(subject, a.cfg.RefreshTTL, TokenRefresh, jti)
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("operation", "issue refresh token").Wrap(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Access:       accessClaims,
		Refresh:      refreshClaims,
	}, nil
}

// Refresh exchanges a refresh token for a new pair bound to the same
// session. The session must still exist.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := a.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	id, err := a.resolve(ctx, refreshToken, TokenRefresh, true)
	if err != nil {
		endSpan(span, err)
		RefreshesTotal.WithLabelValues(ResultRejected).Inc()
		return nil, err
	}

	pair, err := a.issuePair(id.User.ID, id.SessionID)
	if err != nil {
		endSpan(span, err)
		RefreshesTotal.WithLabelValues(ResultError).Inc()
		return nil, err
	}
	RefreshesTotal.WithLabelValues(ResultSuccess).Inc()
	return pair, nil
}

// Logout deletes the caller's session. A session already gone counts as
// logged out.
func (a *Authenticator) Logout(ctx context.Context, id *Identity) error {
	if id == nil || id.User == nil {
		return oops.Code(CodeSessionInvalid).Errorf("no authenticated session")
	}
	err := a.sessions.Delete(ctx, id.User.ID, id.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			With("user_id", id.User.ID).
			Wrap(err)
	}
	a.forget(id.SessionID)
	a.logger.InfoContext(ctx, "user logged out", "user_id", id.User.ID)
	return nil
}

// LogoutAll deletes every session of the caller except the current one and
// returns how many were revoked.
func (a *Authenticator) LogoutAll(ctx context.Context, id *Identity) (int64, error) {
	if id == nil || id.User == nil {
		return 0, oops.Code(CodeSessionInvalid).Errorf("no authenticated session")
	}
	n, err := a.sessions.DeleteAllExcept(ctx, id.User.ID, id.SessionID)
	if err != nil {
		return 0, oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete other sessions").
			With("user_id", id.User.ID).
			Wrap(err)
	}
	a.logger.InfoContext(ctx, "revoked other sessions", "user_id", id.User.ID, "count", n)
	return n, nil
}

// ListSessions returns the caller's sessions, newest first, marking the
// current one.
func (a *Authenticator) ListSessions(ctx context.Context, id *Identity) ([]SessionView, error) {
	if id == nil || id.User == nil {
		return nil, oops.Code(CodeSessionInvalid).Errorf("no authenticated session")
	}
	sessions, err := a.sessions.ListByUser(ctx, id.User.ID)
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_LIST_FAILED").
			With("operation", "list sessions").
			With("user_id", id.User.ID).
			Wrap(err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{Session: *s, IsCurrent: s.JTI == id.SessionID})
	}
	return views, nil
}

func (a *Authenticator) forget(jti string) {
	if a.touched != nil {
		a.touched.Delete(jti)
	}
}

func (a *Authenticator) reject(code, msg string) error {
	RejectionsTotal.WithLabelValues(reasonLabel(code)).Inc()
	return oops.Code(code).Errorf("%s", msg)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

// reasonLabel turns AUTH_WRONG_TOKEN_TYPE into wrong_token_type.
func reasonLabel(code string) string {
	return strings.ToLower(strings.TrimPrefix(code, "AUTH_"))
}

func loginResult(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		switch oopsErr.Code() {
		case CodeInvalidCredentials:
			return ResultInvalidCredentials
		case CodeNotVerified:
			return ResultNotVerified
		}
	}
	return ResultError
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
