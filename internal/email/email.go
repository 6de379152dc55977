// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package email delivers verification and password reset links.
package email

import (
	"context"
	"crypto/tls"
	"log/slog"

	mail "github.com/go-mail/mail"
	"github.com/samber/oops"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a single message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TLS modes accepted by SMTPConfig.TLSMode.
const (
	TLSModeAuto     = "auto"
	TLSModeStartTLS = "starttls"
	TLSModeSSL      = "ssl"
	TLSModeNone     = "none"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLSMode  string
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("EMAIL_INVALID_CONFIG").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("EMAIL_INVALID_CONFIG").Errorf("sender address is required")
	}
	switch cfg.TLSMode {
	case "":
		cfg.TLSMode = TLSModeAuto
	case TLSModeAuto, TLSModeStartTLS, TLSModeSSL, TLSModeNone:
	default:
		return nil, oops.Code("EMAIL_INVALID_CONFIG").
			With("tls_mode", cfg.TLSMode).
			Errorf("tls mode must be auto, starttls, ssl or none")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

// Send renders msg as multipart/alternative and delivers it.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			m.AddAlternative("text/html", msg.HTML)
		}
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	if err := s.dialer().DialAndSend(m); err != nil {
		return oops.Code("EMAIL_SEND_FAILED").
			With("host", s.cfg.Host).
			With("port", s.cfg.Port).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "email sent", "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
	switch s.cfg.TLSMode {
	case TLSModeSSL:
		d.SSL = true
	case TLSModeStartTLS:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case TLSModeNone:
		d.StartTLSPolicy = mail.NoStartTLS
	}
	return d
}

// LogSender logs messages instead of sending them. It is used when no
// SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs msg at info level.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not sent, no smtp host configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}
