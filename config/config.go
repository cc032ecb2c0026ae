// Package config loads the immutable service configuration from the
// environment. All tunables live here; nothing else in the service reads
// environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Template maps a logical template name to a provider template ID and a
// human subject line.
type Template struct {
	ID      string
	Subject string
}

// Config holds the full service configuration. It is constructed once in
// main and passed down; it is never mutated after Load returns.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Storage: either a GCS bucket (production) or a local directory
	// (development). When both are empty, main defaults to local mode.
	StorageBucket string `env:"STORAGE_BUCKET"`
	LocalStorage  string `env:"LOCAL_STORAGE"`

	// TokenSalt keys the HMAC used to derive storage object names from
	// email addresses.
	TokenSalt string `env:"TOKEN_SALT" envDefault:"lifecycle-notifier"`

	BaseURL string `env:"BASE_URL"`

	// PostHog analytics source.
	PostHogAPIKey  string `env:"POSTHOG_API_KEY"`
	PostHogBaseURL string `env:"POSTHOG_BASE_URL" envDefault:"https://us.posthog.com"`
	PostHogProject string `env:"POSTHOG_PROJECT_ID"`
	PostHogLimit   int    `env:"POSTHOG_PAGE_LIMIT" envDefault:"1000"`

	// Email providers. SendGrid is preferred when its key is set; Gmail
	// credentials are the fallback; with neither, emails are mocked.
	SendGridAPIKey  string `env:"SENDGRID_API_KEY"`
	GoogleCredsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
	FromAddress     string `env:"FROM_ADDRESS" envDefault:"info@on-demand.io"`
	FromName        string `env:"FROM_NAME" envDefault:"On-Demand"`

	templates map[string]Template
}

// Load reads configuration from the environment and attaches the template
// table.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.PostHogLimit <= 0 {
		return nil, errors.New("POSTHOG_PAGE_LIMIT must be positive")
	}

	cfg.templates = defaultTemplates()
	return &cfg, nil
}

// Template resolves a logical template name. The second return is false for
// unknown names.
func (c *Config) Template(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// TemplateNames returns all configured logical template names.
func (c *Config) TemplateNames() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	return names
}

func defaultTemplates() map[string]Template {
	return map[string]Template{
		"Template A": {ID: "TEMPLATE_ID_A", Subject: "Your Template A Subject"},
		"Template B": {ID: "TEMPLATE_ID_B", Subject: "Your Template B Subject"},
		"Template X": {ID: "TEMPLATE_ID_X", Subject: "Your Template X Subject"},
		"Dormant": {
			ID:      "d-c6fc3e6aee0c43718bff86e30567330e",
			Subject: "We’ve missed you at On-Demand!",
		},
		"Resurrecting": {
			ID:      "d-7611a59443cd49af9ed5d7bb92fe321c",
			Subject: "Let’s get back on track 🚀",
		},
		"Returning": {
			ID:      "d-05ad975e3347423fbb357c7d6424cff2",
			Subject: "Welcome back to On-Demand!",
		},
	}
}
