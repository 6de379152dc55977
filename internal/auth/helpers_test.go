// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitdojo/fitdojo/internal/auth"
)

const testSecret = "test-secret-0123456789abcdefghijklmnop"

// Cheap parameters so tests stay fast.
var testParams = auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestHasher(t *testing.T) *auth.Argon2idHasher {
	t.Helper()
	h, err := auth.NewArgon2idHasherWithParams(testParams)
	require.NoError(t, err)
	return h
}

func newTestCodec(t *testing.T, clock *fakeClock) *auth.TokenCodec {
	t.Helper()
	c, err := auth.NewTokenCodec([]byte(testSecret), auth.WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
