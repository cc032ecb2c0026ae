// Package email handles dispatching template batches via multiple providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lifecycle-notifier/config"
)

// Recipient is one addressee of a template batch, with its per-recipient
// merge data.
type Recipient struct {
	Email string
	Name  string // email local part, used as the template's greeting name
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	// SendBatch sends one template to every recipient in a single logical call.
	SendBatch(ctx context.Context, templateID, subject string, recipients []Recipient) error
}

// Sender resolves logical template names and dispatches batches through a
// pluggable provider.
type Sender struct {
	provider Provider
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates a new email sender with the given provider.
func New(provider Provider, cfg *config.Config, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// SendTemplate dispatches one bucket: the template resolved by name, sent to
// all recipients at once.
func (s *Sender) SendTemplate(ctx context.Context, template string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}

	tmpl, ok := s.cfg.Template(template)
	if !ok {
		return fmt.Errorf("unknown template %q", template)
	}

	rcpt := make([]Recipient, 0, len(recipients))
	for _, addr := range recipients {
		rcpt = append(rcpt, Recipient{Email: addr, Name: localPart(addr)})
	}

	s.logger.Info("Dispatching template batch",
		"template", template,
		"template_id", tmpl.ID,
		"subject", tmpl.Subject,
		"recipients", len(rcpt))

	return s.provider.SendBatch(ctx, tmpl.ID, tmpl.Subject, rcpt)
}

// localPart extracts the part of an email address before the @.
func localPart(email string) string {
	if idx := strings.Index(email, "@"); idx > 0 {
		return email[:idx]
	}
	return email
}
