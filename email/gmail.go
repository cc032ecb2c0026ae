package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends emails via the Gmail API. Gmail has no stored-template
// concept, so the body is rendered locally per template and one message is
// sent per recipient.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
	baseURL string // for unsubscribe links
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, baseURL string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
		baseURL: baseURL,
	}
}

// sanitizeEmailHeader removes newlines and control characters to prevent
// header injection. RFC 5322 headers are newline-delimited, so any newline in
// a header value allows an attacker to inject arbitrary headers.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SendBatch renders the template body and sends one message per recipient.
func (g *GmailProvider) SendBatch(ctx context.Context, templateID, subject string, recipients []Recipient) error {
	subject = sanitizeEmailHeader(subject)

	for _, r := range recipients {
		to := sanitizeEmailHeader(r.Email)
		body := g.renderBody(templateID, subject, r)

		// From address is set by Gmail based on the authenticated account
		var msg strings.Builder
		msg.WriteString("MIME-Version: 1.0\r\n")
		msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
		msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
		msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		msg.WriteString(body)
		encoded := base64.URLEncoding.EncodeToString([]byte(msg.String()))

		err := retry.Do(
			func() error {
				g.logger.Info("Gmail API request starting",
					"method", "POST",
					"endpoint", "users.messages.send",
					"to", to,
					"subject", subject)

				startTime := time.Now()
				_, err := g.service.Users.Messages.Send("me", &gmail.Message{
					Raw: encoded,
				}).Context(ctx).Do()
				duration := time.Since(startTime)

				if err != nil {
					g.logger.Warn("Gmail API send failed, will retry",
						"to", to,
						"duration_ms", duration.Milliseconds(),
						"error", err)
					return err
				}

				g.logger.Info("Gmail API request completed",
					"endpoint", "users.messages.send",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"status", "success")

				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				g.logger.Info("Retrying Gmail send after error", "attempt", n, "error", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("send to %s after retries: %w", to, err)
		}
	}

	return nil
}

func (g *GmailProvider) renderBody(templateID, subject string, r Recipient) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".header { border-bottom: 2px solid #4a90d9; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".content { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 15px 0; }\n")
	b.WriteString(".footer { margin-top: 20px; padding-top: 10px; border-top: 1px solid #ecf0f1; color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString("a { color: #4a90d9; text-decoration: none; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>%s</h2>\n", escapeHTML(subject)))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">\n")
	b.WriteString(fmt.Sprintf("<p>Hi %s,</p>\n", escapeHTML(r.Name)))
	b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(subject)))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"footer\">\n")
	if g.baseURL != "" {
		b.WriteString(fmt.Sprintf("<a href=\"%s/unsubscribe?email=%s\">Unsubscribe</a>\n",
			escapeHTML(g.baseURL), escapeHTML(r.Email)))
	}
	b.WriteString(fmt.Sprintf("<!-- template: %s -->\n", escapeHTML(templateID)))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

// escapeHTML escapes HTML special characters for security.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
