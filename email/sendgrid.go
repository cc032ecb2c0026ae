package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// SendGridProvider sends dynamic-template emails via the SendGrid v3 API.
type SendGridProvider struct {
	apiKey   string
	fromAddr string
	fromName string
	client   *http.Client
	logger   *slog.Logger
	endpoint string
}

// NewSendGridProvider creates a new SendGrid email provider.
func NewSendGridProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *SendGridProvider {
	return &SendGridProvider{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: "https://api.sendgrid.com/v3/mail/send",
	}
}

// sendGridRequest represents the SendGrid mail send request.
type sendGridRequest struct {
	From             sendGridContact           `json:"from"`
	TemplateID       string                    `json:"template_id"`
	Personalizations []sendGridPersonalization `json:"personalizations"`
}

type sendGridPersonalization struct {
	To           []sendGridContact `json:"to"`
	TemplateData map[string]string `json:"dynamic_template_data"`
}

type sendGridContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SendBatch sends one template to all recipients in a single API call, one
// personalization per recipient.
func (p *SendGridProvider) SendBatch(ctx context.Context, templateID, subject string, recipients []Recipient) error {
	reqBody := sendGridRequest{
		From: sendGridContact{
			Email: p.fromAddr,
			Name:  p.fromName,
		},
		TemplateID:       templateID,
		Personalizations: make([]sendGridPersonalization, 0, len(recipients)),
	}

	for _, r := range recipients {
		reqBody.Personalizations = append(reqBody.Personalizations, sendGridPersonalization{
			To: []sendGridContact{{Email: r.Email}},
			TemplateData: map[string]string{
				"name":    r.Name,
				"subject": subject,
			},
		})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			p.logger.Info("SendGrid API request starting",
				"method", "POST",
				"endpoint", "mail/send",
				"template_id", templateID,
				"recipients", len(recipients))

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+p.apiKey)

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("SendGrid API request failed, will retry",
					"template_id", templateID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				// Bad API key; retrying won't help
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				p.logger.Warn("SendGrid API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"template_id", templateID)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			p.logger.Info("SendGrid API request completed",
				"endpoint", "mail/send",
				"template_id", templateID,
				"recipients", len(recipients),
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
			p.logger.Info("Retrying SendGrid send after error", "attempt", n, "error", err)
		}),
	)
}
