// Package mailer sends plain-text notification email through SendGrid.
package mailer

import (
	"context"
	"fmt"

	"whatsapp-provider/internal/config"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

const sendPath = "/v3/mail/send"

type Mailer struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	log       *logrus.Entry
}

func New(cfg config.MailConfig) *Mailer {
	return &Mailer{
		apiKey:    cfg.SendGridAPIKey,
		host:      "https://api.sendgrid.com",
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       logrus.WithField("module", "mailer"),
	}
}

// WithHost points the mailer at another SendGrid-compatible API.
func (m *Mailer) WithHost(host string) *Mailer {
	m.host = host
	return m
}

func (m *Mailer) Enabled() bool {
	return m.apiKey != ""
}

// Send delivers one message. Without an API key it logs and returns nil.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	entry := m.log.WithFields(logrus.Fields{"to": to, "subject": subject})
	if !m.Enabled() {
		entry.Info("SendGrid not configured, skipping email")
		return nil
	}

	msg := mail.NewSingleEmail(
		mail.NewEmail(m.fromName, m.fromEmail),
		subject,
		mail.NewEmail("", to),
		body,
		"",
	)

	request := sendgrid.GetRequest(m.apiKey, sendPath, m.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestRetryWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	entry.Info("Email sent")
	return nil
}
