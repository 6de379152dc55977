// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package email

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdojo/fitdojo/pkg/errutil"
)

func TestNewSMTPSender_Validation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SMTPConfig
		wantCode string
	}{
		{"valid", SMTPConfig{Host: "localhost", Port: 1025, From: "FitDojo <noreply@fitdojo.local>"}, ""},
		{"missing host", SMTPConfig{From: "a@b.c"}, "EMAIL_INVALID_CONFIG"},
		{"missing from", SMTPConfig{Host: "localhost"}, "EMAIL_INVALID_CONFIG"},
		{"bad tls mode", SMTPConfig{Host: "localhost", From: "a@b.c", TLSMode: "maybe"}, "EMAIL_INVALID_CONFIG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSMTPSender(tt.cfg, nil)
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSMTPSender_Dialer(t *testing.T) {
	tests := []struct {
		mode       string
		wantSSL    bool
		wantPolicy mail.StartTLSPolicy
	}{
		{"", false, mail.OpportunisticStartTLS},
		{TLSModeStartTLS, false, mail.MandatoryStartTLS},
		{TLSModeSSL, true, mail.OpportunisticStartTLS},
		{TLSModeNone, false, mail.NoStartTLS},
	}
	for _, tt := range tests {
		t.Run("mode "+tt.mode, func(t *testing.T) {
			s, err := NewSMTPSender(SMTPConfig{
				Host: "smtp.fitdojo.test", Port: 587, Username: "u", Password: "p",
				From: "noreply@fitdojo.test", TLSMode: tt.mode,
			}, nil)
			require.NoError(t, err)

			d := s.dialer()
			assert.Equal(t, "smtp.fitdojo.test", d.Host)
			assert.Equal(t, 587, d.Port)
			assert.Equal(t, "u", d.Username)
			assert.Equal(t, tt.wantSSL, d.SSL)
			assert.Equal(t, tt.wantPolicy, d.StartTLSPolicy)
			assert.Equal(t, "smtp.fitdojo.test", d.TLSConfig.ServerName)
		})
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: VerifySubject, Text: "link"}))
	assert.Contains(t, buf.String(), "a@example.com")
	assert.Contains(t, buf.String(), "Verify your FitDojo email")
}

func TestTemplates(t *testing.T) {
	link := "https://app.fitdojo.test/auth/verify?token=abc.def.ghi"

	msg, err := VerificationMessage("a@example.com", link)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, VerifySubject, msg.Subject)
	assert.Contains(t, msg.HTML, "Welcome to FitDojo!")
	assert.Contains(t, msg.HTML, `href="`+link+`"`)
	assert.Contains(t, msg.Text, link)

	msg, err = PasswordResetMessage("a@example.com", link)
	require.NoError(t, err)
	assert.Equal(t, ResetSubject, msg.Subject)
	assert.Contains(t, msg.HTML, "Set a new password")
	assert.Contains(t, msg.Text, link)
}

func TestTemplates_EscapeHostileLinks(t *testing.T) {
	msg, err := VerificationMessage("a@example.com", `javascript:alert("x")`)
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "javascript:")
}
