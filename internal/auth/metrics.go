// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultSuccess            = "success"
	ResultInvalidCredentials = "invalid_credentials"
	ResultNotVerified        = "not_verified"
	ResultRejected           = "rejected"
	ResultError              = "error"
)

// LoginsTotal counts login attempts by result.
var LoginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fitdojo_auth_logins_total",
		Help: "Total number of login attempts by result",
	},
	[]string{"result"},
)

// RejectionsTotal counts failed authentication passes by reason code.
var RejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fitdojo_auth_rejections_total",
		Help: "Total number of rejected authentication attempts by reason",
	},
	[]string{"reason"},
)

// RefreshesTotal counts refresh attempts by result.
var RefreshesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fitdojo_auth_refreshes_total",
		Help: "Total number of token refreshes by result",
	},
	[]string{"result"},
)

// OneTimeTokensTotal counts one-time token lifecycle events.
var OneTimeTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fitdojo_one_time_tokens_total",
		Help: "Total number of one-time token events by purpose and event",
	},
	[]string{"purpose", "event"},
)

// SessionsSwept counts sessions removed by the idle sweeper.
var SessionsSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fitdojo_sessions_swept_total",
		Help: "Total number of idle sessions removed",
	},
)

// OneTimeTokensSwept counts one-time tokens removed by the sweeper.
var OneTimeTokensSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fitdojo_one_time_tokens_swept_total",
		Help: "Total number of expired or used one-time tokens removed",
	},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LoginsTotal)
	reg.MustRegister(RejectionsTotal)
	reg.MustRegister(RefreshesTotal)
	reg.MustRegister(OneTimeTokensTotal)
	reg.MustRegister(SessionsSwept)
	reg.MustRegister(OneTimeTokensSwept)
}
