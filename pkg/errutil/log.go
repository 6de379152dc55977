// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package errutil holds helpers for working with oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the deepest oops code carried by err, or "" when it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// LogErrorContext logs err at error level. Oops errors contribute their code
// and context as separate attributes.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
		return
	}
	attrs = append(attrs, "error", oopsErr.Error())
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if oc := oopsErr.Context(); len(oc) > 0 {
		attrs = append(attrs, "context", oc)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
