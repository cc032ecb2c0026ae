// Package engine runs the sync cycle: ingest session recordings into user
// records, classify every stored user, gate template proposals through the
// per-template cooldown, and dispatch one email batch per template.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lifecycle-notifier/pkg/lifecycle"
)

// ErrSyncInProgress is returned when a cycle is triggered while another one
// is still running. Concurrent cycles would race on user records.
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// Analytics fetches session recordings. A non-nil error alongside a non-empty
// slice signals a partial fetch; the engine proceeds on partial data.
type Analytics interface {
	SessionRecordings(ctx context.Context) ([]lifecycle.Recording, error)
}

// Store persists user records and the unsubscribe set.
type Store interface {
	MergeSessions(ctx context.Context, email string, sessions []time.Time, now time.Time) (created, updated bool, err error)
	SaveUser(ctx context.Context, user *lifecycle.UserRecord) error
	ListUsers(ctx context.Context) ([]*lifecycle.UserRecord, error)
	IsUnsubscribed(ctx context.Context, email string) (bool, error)
}

// Emailer dispatches one template bucket.
type Emailer interface {
	SendTemplate(ctx context.Context, template string, recipients []string) error
}

// Engine orchestrates sync cycles.
type Engine struct {
	analytics Analytics
	store     Store
	emailer   Emailer
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.Mutex // run-lock: at most one cycle at a time
}

// New creates a new engine.
func New(analytics Analytics, store Store, emailer Emailer, logger *slog.Logger) *Engine {
	return &Engine{
		analytics: analytics,
		store:     store,
		emailer:   emailer,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync runs one full cycle and returns its summary. Re-running with no new
// analytics events is a no-op apart from classification, which is recomputed
// from the stored history every cycle.
func (e *Engine) Sync(ctx context.Context) (*lifecycle.SyncResult, error) {
	if !e.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	now := e.now().UTC()
	res := &lifecycle.SyncResult{}

	e.logger.Info("Sync cycle starting", "timestamp", now.Format(time.RFC3339))

	recordings, err := e.analytics.SessionRecordings(ctx)
	if err != nil {
		// Partial-data policy: whatever was fetched before the failure
		// still gets ingested.
		e.logger.Warn("Analytics fetch incomplete, proceeding with fetched data",
			"recordings", len(recordings), "error", err)
	}
	res.Recordings = len(recordings)

	e.ingest(ctx, recordings, now, res)

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("list users: %w", err)
	}

	batch := NewBatcher()
	byEmail := make(map[string]*lifecycle.UserRecord, len(users))

	for _, user := range users {
		select {
		case <-ctx.Done():
			e.logger.Info("Context cancelled, stopping sync cycle", "error", ctx.Err())
			return res, ctx.Err()
		default:
		}

		unsubscribed, err := e.store.IsUnsubscribed(ctx, user.Email)
		if err != nil {
			e.logger.Warn("Unsubscribe check failed, skipping user", "email", user.Email, "error", err)
			res.FailedUsers++
			continue
		}
		if unsubscribed {
			e.logger.Debug("Skipping unsubscribed user", "email", user.Email)
			res.Skipped++
			continue
		}

		byEmail[user.Email] = user

		approved := e.proposals(user, now)
		if len(approved) == 0 {
			continue
		}

		res.Classified++
		for _, template := range approved {
			batch.Add(template, user.Email)
		}
	}

	e.dispatch(ctx, batch, byEmail, now, res)

	e.logger.Info("Sync cycle completed",
		"recordings", res.Recordings,
		"created", res.Created,
		"updated", res.Updated,
		"skipped_unsubscribed", res.Skipped,
		"classified", res.Classified,
		"sent", res.Sent,
		"failed_users", res.FailedUsers,
		"failed_sends", res.FailedSends)

	return res, nil
}

// ingest merges new session timestamps into user records. Items without an
// email are skipped; items without an end time get the cycle timestamp.
// Ingestion fully completes before classification reads any record.
func (e *Engine) ingest(ctx context.Context, recordings []lifecycle.Recording, now time.Time, res *lifecycle.SyncResult) {
	byEmail := make(map[string][]time.Time)
	for _, rec := range recordings {
		if rec.Email == "" {
			continue
		}
		end := rec.EndTime
		if end.IsZero() {
			end = now
		}
		byEmail[rec.Email] = append(byEmail[rec.Email], end)
	}

	e.logger.Info("Ingesting sessions", "unique_emails", len(byEmail))

	for email, sessions := range byEmail {
		created, updated, err := e.store.MergeSessions(ctx, email, sessions, now)
		if err != nil {
			// One user's persistence failure must not abort the cycle
			e.logger.Warn("Session merge failed, continuing with next user", "email", email, "error", err)
			res.FailedUsers++
			continue
		}
		if created {
			res.Created++
		}
		if updated {
			res.Updated++
		}
	}
}

// proposals collects the templates approved for a user this cycle: the
// classifier's segment and the ladder's tier are proposed independently and
// each passes through the send gate on its own cooldown.
func (e *Engine) proposals(user *lifecycle.UserRecord, now time.Time) []string {
	var approved []string

	if tierTemplate := ProposeTier(user.Count, user.LastSent); tierTemplate != "" {
		if ShouldSend(user.LastSent, tierTemplate, now, defaultCooldown) {
			approved = append(approved, tierTemplate)
		}
	}

	if segment := Classify(user.SessionHistory, user.StartTime, now); segment != lifecycle.SegmentNone {
		if ShouldSend(user.LastSent, string(segment), now, defaultCooldown) {
			approved = append(approved, string(segment))
		}
	}

	return approved
}

// dispatch sends one email call per non-empty bucket. Per-template last-sent
// state is recorded only for buckets whose dispatch succeeded, so a failed
// call is retried naturally on the next cycle.
func (e *Engine) dispatch(ctx context.Context, batch *Batcher, byEmail map[string]*lifecycle.UserRecord, now time.Time, res *lifecycle.SyncResult) {
	dirty := make(map[string]*lifecycle.UserRecord)

	for _, template := range batch.Templates() {
		recipients := batch.Recipients(template)

		if err := e.emailer.SendTemplate(ctx, template, recipients); err != nil {
			e.logger.Error("Template dispatch failed, send state not recorded",
				"template", template, "recipients", len(recipients), "error", err)
			res.FailedSends++
			continue
		}

		e.logger.Info("Template batch dispatched", "template", template, "recipients", len(recipients))
		res.Sent += len(recipients)

		for _, email := range recipients {
			user, ok := byEmail[email]
			if !ok {
				continue
			}
			user.LastSent[template] = now
			dirty[email] = user
		}
	}

	for email, user := range dirty {
		if err := e.store.SaveUser(ctx, user); err != nil {
			e.logger.Warn("Failed to persist send state", "email", email, "error", err)
			res.FailedUsers++
		}
	}
}
