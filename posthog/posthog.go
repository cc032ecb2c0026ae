// Package posthog fetches session recordings from the PostHog API.
package posthog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"lifecycle-notifier/pkg/lifecycle"
)

// ErrPartialFetch indicates pagination stopped early; the recordings fetched
// before the failure are still returned.
var ErrPartialFetch = errors.New("posthog: pagination aborted, partial result")

// Client fetches session recordings, following the API's cursor-style "next"
// links until exhausted.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	baseURL    string
	project    string
	limit      int
}

// New creates a new PostHog client. baseURL is the instance root, e.g.
// "https://us.posthog.com".
func New(apiKey, baseURL, project string, limit int, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		apiKey:     apiKey,
		baseURL:    baseURL,
		project:    project,
		limit:      limit,
	}
}

// page mirrors the session_recordings list response.
type page struct {
	Next    string `json:"next"`
	Results []struct {
		StartTime *time.Time `json:"start_time"`
		EndTime   *time.Time `json:"end_time"`
		Person    *struct {
			Properties map[string]any `json:"properties"`
		} `json:"person"`
	} `json:"results"`
}

// SessionRecordings fetches the full flattened recording list. A pagination
// failure aborts the walk: the pages fetched so far are returned together
// with ErrPartialFetch so the caller can proceed on partial data.
func (c *Client) SessionRecordings(ctx context.Context) ([]lifecycle.Recording, error) {
	nextURL := fmt.Sprintf("%s/api/projects/%s/session_recordings/?limit=%d", c.baseURL, c.project, c.limit)

	var recordings []lifecycle.Recording
	var pages int

	for nextURL != "" {
		p, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			c.logger.Warn("PostHog pagination aborted, proceeding with fetched pages",
				"pages_fetched", pages,
				"recordings", len(recordings),
				"error", err)
			return recordings, fmt.Errorf("%w: %w", ErrPartialFetch, err)
		}
		pages++

		for _, item := range p.Results {
			rec := lifecycle.Recording{}
			if item.StartTime != nil {
				rec.StartTime = *item.StartTime
			}
			if item.EndTime != nil {
				rec.EndTime = *item.EndTime
			}
			if item.Person != nil {
				if email, ok := item.Person.Properties["email"].(string); ok {
					rec.Email = email
				}
			}
			recordings = append(recordings, rec)
		}

		nextURL = p.Next
	}

	c.logger.Info("PostHog fetch completed", "pages", pages, "recordings", len(recordings))
	return recordings, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	var result *page

	err := retry.Do(
		func() error {
			c.logger.Info("PostHog API request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", "fetch_session_recordings")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("PostHog API request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Info("PostHog API request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				// Bad credentials won't get better with retries
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}

			if resp.StatusCode != http.StatusOK {
				c.logger.Warn("PostHog API returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}

			var p page
			if err := json.Unmarshal(body, &p); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			result = &p
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying PostHog fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return result, nil
}
