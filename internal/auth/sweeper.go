// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = time.Hour

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Sessions      int64
	OneTimeTokens int64
	SessionCutoff time.Time
	OneTimeCutoff time.Time
}

// Sweeper removes idle sessions and dead one-time tokens. It runs outside
// request handling and relies on the store for consistency with live
// traffic.
type Sweeper struct {
	sessions SessionRepository
	tokens   OneTimeTokenRepository
	idleTTL  time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// SweeperConfig configures a Sweeper. Zero values use the defaults.
type SweeperConfig struct {
	IdleTTL  time.Duration
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewSweeper creates a Sweeper. tokens may be nil to sweep sessions only.
func NewSweeper(sessions SessionRepository, tokens OneTimeTokenRepository, cfg SweeperConfig) (*Sweeper, error) {
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("session repository is required")
	}
	s := &Sweeper{
		sessions: sessions,
		tokens:   tokens,
		idleTTL:  cfg.IdleTTL,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if s.idleTTL <= 0 {
		s.idleTTL = DefaultSessionIdleTTL
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// SweepOnce runs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	res := SweepResult{SessionCutoff: now.Add(-s.idleTTL), OneTimeCutoff: now}

	n, err := s.sessions.SweepIdle(ctx, res.SessionCutoff)
	if err != nil {
		return res, oops.Code("SWEEP_FAILED").With("operation", "sweep idle sessions").Wrap(err)
	}
	res.Sessions = n
	SessionsSwept.Add(float64(n))

	if s.tokens != nil {
		n, err = s.tokens.DeleteExpired(ctx, res.OneTimeCutoff)
		if err != nil {
			return res, oops.Code("SWEEP_FAILED").With("operation", "delete expired one-time tokens").Wrap(err)
		}
		res.OneTimeTokens = n
		OneTimeTokensSwept.Add(float64(n))
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"sessions", res.Sessions,
		"one_time_tokens", res.OneTimeTokens,
		"session_cutoff", res.SessionCutoff,
	)
	return res, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
