package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"exodrive/internal/app/policies"
)

// EmailAPI is the part of the Resend client the notifier uses.
type EmailAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailNotifier sends transactional emails through Resend.
type EmailNotifier struct {
	Emails  EmailAPI
	From    string
	BaseURL string
	Logger  *slog.Logger
}

func NewResendNotifier(apiKey, from, baseURL string, logger *slog.Logger) *EmailNotifier {
	client := resend.NewClient(apiKey)
	return &EmailNotifier{Emails: client.Emails, From: from, BaseURL: strings.TrimRight(baseURL, "/"), Logger: logger}
}

func (n *EmailNotifier) Send(ctx context.Context, to string, template string, data any) error {
	if n.Emails == nil {
		return errors.New("notify: email client not configured")
	}
	email, err := Render(template, data, n.BaseURL)
	if err != nil {
		return err
	}
	resp, err := n.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.From,
		To:      []string{to},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", template, err)
	}
	if n.Logger != nil {
		n.Logger.Info("email sent", "template", template, "email_id", resp.Id)
	}
	return nil
}

// LogNotifier stands in when no email provider is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, to string, template string, data any) error {
	if n.Logger != nil {
		n.Logger.Warn("email service not configured, skipping", "template", template)
	}
	return nil
}

// New picks the Resend sender when an API key is present.
func New(apiKey, from, baseURL string, logger *slog.Logger) policies.Notifier {
	if strings.TrimSpace(apiKey) == "" {
		return LogNotifier{Logger: logger}
	}
	return NewResendNotifier(apiKey, from, baseURL, logger)
}

var _ policies.Notifier = (*EmailNotifier)(nil)
var _ policies.Notifier = LogNotifier{}
