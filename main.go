// Package main implements a Cloud Run service that syncs session activity
// from PostHog, classifies each user's engagement lifecycle, and sends
// cooldown-gated template emails per segment and volume tier.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"lifecycle-notifier/config"
	"lifecycle-notifier/email"
	"lifecycle-notifier/engine"
	"lifecycle-notifier/posthog"
	"lifecycle-notifier/server"
	"lifecycle-notifier/storage"
)

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	localStorage := cfg.LocalStorage
	// Default to local development mode if no bucket specified
	if cfg.StorageBucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var store *storage.Store
	if localStorage != "" {
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
		store = storage.New(nil, "", localStorage, []byte(cfg.TokenSalt), logger)
	} else {
		storageClient, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
		store = storage.New(storageClient, cfg.StorageBucket, "", []byte(cfg.TokenSalt), logger)
	}

	provider := initEmailProvider(ctx, cfg, logger)
	sender := email.New(provider, cfg, logger)

	analytics := posthog.New(cfg.PostHogAPIKey, cfg.PostHogBaseURL, cfg.PostHogProject, cfg.PostHogLimit, logger)
	if cfg.PostHogAPIKey == "" || cfg.PostHogProject == "" {
		logger.Warn("PostHog credentials not fully configured; sync cycles will fetch no data")
	}

	eng := engine.New(analytics, store, sender, logger)

	srv := server.New(&server.Config{
		Syncer: eng,
		Unsubs: store,
		Logger: logger,
	})

	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// initEmailProvider picks the configured provider: SendGrid when its API key
// is set, Gmail when credentials are available, otherwise mock.
func initEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) email.Provider {
	if cfg.SendGridAPIKey != "" {
		logger.Info("Using SendGrid email provider", "from", cfg.FromAddress)
		return email.NewSendGridProvider(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName, logger)
	}

	gmailService, err := initGmailService(ctx, cfg.GoogleCredsJSON)
	if err != nil {
		logger.Warn("No email provider configured, using mock email", "error", err)
		return email.NewMockProvider(logger)
	}

	logger.Info("Using Gmail email provider")
	return email.NewGmailProvider(gmailService, cfg.BaseURL, logger)
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	// Try explicit credentials first (for local development or specific use cases)
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// If running in Cloud Run, use Application Default Credentials (ADC).
	// The service account needs Gmail API access (gmail.send scope).
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
