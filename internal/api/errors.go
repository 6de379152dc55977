// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package api

import (
	"log/slog"
	"net/http"

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/transport"
	"github.com/fitdojo/fitdojo/pkg/errutil"
)

// CodeBadRequest marks a request body or query that could not be decoded.
const CodeBadRequest = "REQUEST_INVALID"

// codeInternal is the only code a client sees for unmapped failures.
const codeInternal = "INTERNAL_ERROR"

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	auth.CodeMissingToken:       http.StatusUnauthorized,
	auth.CodeInvalidToken:       http.StatusUnauthorized,
	auth.CodeWrongTokenType:     http.StatusUnauthorized,
	auth.CodeUserNotFound:       http.StatusUnauthorized,
	auth.CodeSessionInvalid:     http.StatusUnauthorized,
	auth.CodeInvalidCredentials: http.StatusUnauthorized,
	auth.CodeNotVerified:        http.StatusForbidden,
	transport.CodeCSRFFailed:    http.StatusForbidden,
	auth.CodeInvalidInput:       http.StatusBadRequest,
	auth.CodeInvalidOrExpired:   http.StatusBadRequest,
	CodeBadRequest:              http.StatusBadRequest,
	auth.CodeEmailExists:        http.StatusConflict,
}

// Fixed client-facing messages. Codes not listed here report the error
// text itself, which for validation failures names the offending field.
var messageByCode = map[string]string{
	auth.CodeMissingToken:       "missing token",
	auth.CodeInvalidToken:       "invalid or expired token",
	auth.CodeWrongTokenType:     "wrong token type",
	auth.CodeUserNotFound:       "user not found",
	auth.CodeSessionInvalid:     "session invalid or expired",
	auth.CodeInvalidCredentials: "incorrect email or password",
	auth.CodeNotVerified:        "email is not verified",
	transport.CodeCSRFFailed:    "CSRF token missing or invalid",
	auth.CodeInvalidOrExpired:   "invalid or expired token",
	auth.CodeEmailExists:        "email already exists",
}

// StatusFor maps an error code to its HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err as {code, message}. Server-side failures are
// logged with their full context and reported to the client generically.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := errutil.Code(err)
	status := StatusFor(code)

	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err,
			"method", r.Method, "path", r.URL.Path)
		writeJSON(w, status, errorResponse{Code: codeInternal, Message: "internal server error"})
		return
	}

	msg, ok := messageByCode[code]
	if !ok {
		msg = err.Error()
	}
	logger.DebugContext(r.Context(), "request rejected", "code", code, "status", status)
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
