// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package transport moves credentials between HTTP requests and responses:
// bearer headers, HttpOnly token cookies and the double-submit CSRF cookie.
package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// CSRFHeader is the header a cookie-authenticated client echoes the CSRF
// cookie value in.
const CSRFHeader = "X-CSRF-Token"

// CodeCSRFFailed is returned when the double-submit check fails.
const CodeCSRFFailed = "CSRF_FAILED"

// csrfBytes is the entropy of a CSRF value before encoding.
const csrfBytes = 32

// Source says where a token was found.
type Source int

// Token sources.
const (
	SourceNone Source = iota
	SourceBearer
	SourceCookie
)

func (s Source) String() string {
	switch s {
	case SourceBearer:
		return "bearer"
	case SourceCookie:
		return "cookie"
	default:
		return "none"
	}
}

// CookieConfig describes the cookies the service sets.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	CSRFName    string
	Domain      string
	Path        string
	Secure      bool
	SameSite    string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	CSRFTTL     time.Duration
}

// DefaultCookieConfig returns the cookie names and lifetimes used when
// nothing is configured.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		AccessName:  "access_token",
		RefreshName: "refresh_token",
		CSRFName:    "csrf_token",
		Path:        "/",
		Secure:      true,
		SameSite:    "lax",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  7 * 24 * time.Hour,
		CSRFTTL:     12 * time.Hour,
	}
}

// Transport reads and writes credentials according to a CookieConfig.
type Transport struct {
	cfg      CookieConfig
	sameSite http.SameSite
	now      func() time.Time
}

// New creates a Transport. Empty names and a zero path fall back to the
// defaults.
func New(cfg CookieConfig) (*Transport, error) {
	def := DefaultCookieConfig()
	if cfg.AccessName == "" {
		cfg.AccessName = def.AccessName
	}
	if cfg.RefreshName == "" {
		cfg.RefreshName = def.RefreshName
	}
	if cfg.CSRFName == "" {
		cfg.CSRFName = def.CSRFName
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.CSRFTTL <= 0 {
		cfg.CSRFTTL = def.CSRFTTL
	}

	sameSite, err := ParseSameSite(cfg.SameSite)
	if err != nil {
		return nil, err
	}
	if sameSite == http.SameSiteNoneMode && !cfg.Secure {
		return nil, oops.Code("COOKIE_INVALID_CONFIG").
			With("same_site", cfg.SameSite).
			Errorf("same-site none requires secure cookies")
	}
	return &Transport{cfg: cfg, sameSite: sameSite, now: time.Now}, nil
}

// Config returns the effective cookie configuration.
func (t *Transport) Config() CookieConfig { return t.cfg }

// ParseSameSite maps lax, strict and none (any case) to http.SameSite. An
// empty value is lax.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, oops.Code("COOKIE_INVALID_CONFIG").
			With("same_site", s).
			Errorf("same-site must be lax, strict or none")
	}
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ExtractToken finds the request's token. A bearer header always wins over
// the cookie named cookieName.
func (t *Transport) ExtractToken(r *http.Request, cookieName string) (string, Source, bool) {
	if token, ok := BearerToken(r); ok {
		return token, SourceBearer, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", SourceNone, false
	}
	if v := strings.TrimSpace(c.Value); v != "" {
		return v, SourceCookie, true
	}
	return "", SourceNone, false
}

// ExtractAccess finds the access token.
func (t *Transport) ExtractAccess(r *http.Request) (string, Source, bool) {
	return t.ExtractToken(r, t.cfg.AccessName)
}

// ExtractRefresh finds the refresh token.
func (t *Transport) ExtractRefresh(r *http.Request) (string, Source, bool) {
	return t.ExtractToken(r, t.cfg.RefreshName)
}

// SetAuthCookies sets the access and refresh cookies, each living as long
// as its token.
func (t *Transport) SetAuthCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, t.cookie(t.cfg.AccessName, access, t.cfg.AccessTTL, true))
	http.SetCookie(w, t.cookie(t.cfg.RefreshName, refresh, t.cfg.RefreshTTL, true))
}

// ClearAuthCookies expires the access, refresh and CSRF cookies.
func (t *Transport) ClearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, t.expired(t.cfg.AccessName, true))
	http.SetCookie(w, t.expired(t.cfg.RefreshName, true))
	http.SetCookie(w, t.expired(t.cfg.CSRFName, false))
}

// IssueCSRF sets a fresh script-readable CSRF cookie and returns its value.
func (t *Transport) IssueCSRF(w http.ResponseWriter) (string, error) {
	value, err := randomToken(csrfBytes)
	if err != nil {
		return "", oops.Code("CSRF_ISSUE_FAILED").Wrap(err)
	}
	http.SetCookie(w, t.cookie(t.cfg.CSRFName, value, t.cfg.CSRFTTL, false))
	return value, nil
}

// EnforceCSRF applies the double-submit check. Requests authenticated by
// a bearer header are exempt. Otherwise the CSRF cookie and header must
// both be present and equal.
func (t *Transport) EnforceCSRF(r *http.Request) error {
	if _, ok := BearerToken(r); ok {
		return nil
	}
	c, err := r.Cookie(t.cfg.CSRFName)
	if err != nil || c.Value == "" {
		return oops.Code(CodeCSRFFailed).With("reason", "missing cookie").Errorf("CSRF token missing or invalid")
	}
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return oops.Code(CodeCSRFFailed).With("reason", "missing header").Errorf("CSRF token missing or invalid")
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(c.Value)) != 1 {
		return oops.Code(CodeCSRFFailed).With("reason", "mismatch").Errorf("CSRF token missing or invalid")
	}
	return nil
}

func (t *Transport) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     t.cfg.Path,
		Domain:   t.cfg.Domain,
		HttpOnly: httpOnly,
		Secure:   t.cfg.Secure,
		SameSite: t.sameSite,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = t.now().Add(ttl).UTC()
	}
	return c
}

func (t *Transport) expired(name string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     t.cfg.Path,
		Domain:   t.cfg.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   t.cfg.Secure,
		SameSite: t.sameSite,
	}
}

// ClientIP returns the remote host of r without the port. With chi's
// RealIP middleware installed RemoteAddr already holds the forwarded
// address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
