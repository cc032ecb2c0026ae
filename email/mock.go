package email

import (
	"context"
	"log/slog"
)

// MockProvider is a mock email provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// SendBatch logs the batch instead of sending it.
func (m *MockProvider) SendBatch(ctx context.Context, templateID, subject string, recipients []Recipient) error {
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		to = append(to, r.Email)
	}
	m.logger.Info("MOCK EMAIL BATCH",
		"template_id", templateID,
		"subject", subject,
		"recipients", to)
	return nil
}
