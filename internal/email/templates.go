// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package email

import (
	"bytes"
	"html/template"
	texttemplate "text/template"

	"github.com/samber/oops"
)

// Subjects of the transactional emails.
const (
	VerifySubject = "Verify your FitDojo email"
	ResetSubject  = "Reset your FitDojo password"
)

var (
	verifyHTML = template.Must(template.New("verify").Parse(
		`<p>Welcome to FitDojo!</p><p>Verify your email: <a href="{{.Link}}">Verify</a></p>`))
	verifyText = texttemplate.Must(texttemplate.New("verify").Parse(
		"Welcome to FitDojo!\n\nVerify your email: {{.Link}}\n"))

	resetHTML = template.Must(template.New("reset").Parse(
		`<p>Reset your FitDojo password:</p><p><a href="{{.Link}}">Set a new password</a></p>`))
	resetText = texttemplate.Must(texttemplate.New("reset").Parse(
		"Reset your FitDojo password:\n\n{{.Link}}\n\nIf you did not ask for this, ignore this email.\n"))
)

type linkData struct {
	Link string
}

// VerificationMessage renders the email verification message.
func VerificationMessage(to, link string) (Message, error) {
	return render(to, VerifySubject, verifyHTML, verifyText, link)
}

// PasswordResetMessage renders the password reset message.
func PasswordResetMessage(to, link string) (Message, error) {
	return render(to, ResetSubject, resetHTML, resetText, link)
}

func render(to, subject string, h *template.Template, t *texttemplate.Template, link string) (Message, error) {
	data := linkData{Link: link}
	var html, text bytes.Buffer
	if err := h.Execute(&html, data); err != nil {
		return Message{}, oops.Code("EMAIL_RENDER_FAILED").With("template", h.Name()).Wrap(err)
	}
	if err := t.Execute(&text, data); err != nil {
		return Message{}, oops.Code("EMAIL_RENDER_FAILED").With("template", t.Name()).Wrap(err)
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}
