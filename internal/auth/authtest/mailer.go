// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package authtest

import (
	"context"
	"sync"
)

// SentLink is one link handed to a RecordingMailer.
type SentLink struct {
	Kind string // "verify" or "reset"
	To   string
	Link string
}

// RecordingMailer is an auth.Mailer that remembers every link it was given.
// Err, when set, is returned from every send after recording.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []SentLink
	Err  error
}

// SendVerification records a verification link.
func (m *RecordingMailer) SendVerification(_ context.Context, to, link string) error {
	return m.record("verify", to, link)
}

// SendPasswordReset records a password reset link.
func (m *RecordingMailer) SendPasswordReset(_ context.Context, to, link string) error {
	return m.record("reset", to, link)
}

func (m *RecordingMailer) record(kind, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentLink{Kind: kind, To: to, Link: link})
	return m.Err
}

// Sent returns a copy of every recorded link.
func (m *RecordingMailer) Sent() []SentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentLink(nil), m.sent...)
}

// Last returns the most recently recorded link.
func (m *RecordingMailer) Last() (SentLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentLink{}, false
	}
	return m.sent[len(m.sent)-1], true
}
