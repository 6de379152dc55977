// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails the test unless err is non-nil and its deepest oops
// code equals code.
func AssertErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	require.Error(tb, err)
	assert.Equal(tb, code, Code(err), "error: %v", err)
}

// AssertErrorContext fails the test unless the oops context of err holds key
// with value.
func AssertErrorContext(tb testing.TB, err error, key string, value any) {
	tb.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(tb, ok, "expected oops error, got %T", err)
	ctx := oopsErr.Context()
	if assert.Contains(tb, ctx, key) {
		assert.Equal(tb, value, ctx[key])
	}
}
