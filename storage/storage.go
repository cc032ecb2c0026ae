// Package storage handles persistence of user records and the unsubscribe set.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"lifecycle-notifier/pkg/lifecycle"
)

const (
	userPrefix  = "user-"
	unsubPrefix = "unsub-"
)

var errNotFound = errors.New("storage: object doesn't exist")

// Store persists user records and unsubscribe markers, either in a GCS
// bucket or a local directory for development.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
	mu        sync.Mutex // serializes read-modify-write merges
}

// New creates a new storage handler. When localPath is non-empty the client
// and bucket are unused.
func New(client *storage.Client, bucket, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// TokenFromEmail derives a deterministic, unguessable token from an email
// address. Uses HMAC-SHA256 with a secret salt so object names cannot be
// guessed without the salt.
func (s *Store) TokenFromEmail(email string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}

// objectKey builds a prefixed object name from a token. Validates that the
// token is a 64-char hex string to prevent path traversal. Constant-time
// validation to avoid leaking where validation failed.
func objectKey(prefix, token string) string {
	if len(token) != 64 {
		return ""
	}

	valid := 1
	for _, c := range token {
		isHexDigit := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHexDigit {
			valid = 0
		}
	}
	if valid == 0 {
		return ""
	}

	return prefix + token + ".json"
}

// MergeSessions merges newly observed session timestamps into the record for
// email, creating the record if none exists. Duplicate instants are dropped
// (bit-exact comparison); EndTime and Count are recomputed from the merged
// history. Returns whether a record was created and whether an existing one
// gained sessions. Re-merging already-seen timestamps is a no-op.
func (s *Store) MergeSessions(ctx context.Context, email string, sessions []time.Time, now time.Time) (created, updated bool, err error) {
	if len(sessions) == 0 {
		return false, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.LoadUser(ctx, email)
	switch {
	case IsNotFound(err):
		merged := dedupeSorted(sessions)
		user = &lifecycle.UserRecord{
			Email:          strings.ToLower(strings.TrimSpace(email)),
			SessionHistory: merged,
			StartTime:      merged[0],
			EndTime:        merged[len(merged)-1],
			Count:          len(merged),
			CreatedAt:      now,
			LastSent:       make(map[string]time.Time),
		}
		if err := s.SaveUser(ctx, user); err != nil {
			return false, false, err
		}
		return true, false, nil
	case err != nil:
		return false, false, fmt.Errorf("load user: %w", err)
	}

	merged := dedupeSorted(append(append([]time.Time{}, user.SessionHistory...), sessions...))
	if len(merged) == len(user.SessionHistory) {
		// Nothing new; skip the write to keep ingestion idempotent.
		return false, false, nil
	}

	user.SessionHistory = merged
	user.EndTime = merged[len(merged)-1]
	user.Count = len(merged)

	if err := s.SaveUser(ctx, user); err != nil {
		return false, false, err
	}
	return false, true, nil
}

// dedupeSorted returns the distinct instants of ts in ascending order.
func dedupeSorted(ts []time.Time) []time.Time {
	sorted := append([]time.Time{}, ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := sorted[:0]
	for _, t := range sorted {
		if len(out) == 0 || !out[len(out)-1].Equal(t) {
			out = append(out, t)
		}
	}
	return out
}

// SaveUser saves a user record.
func (s *Store) SaveUser(ctx context.Context, user *lifecycle.UserRecord) error {
	key := objectKey(userPrefix, s.TokenFromEmail(user.Email))
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Debug("Saving user record", "key", key, "email", user.Email)

	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user record: %w", err)
	}

	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}

	s.logger.Debug("User record saved", "key", key, "email", user.Email, "session_count", user.Count)
	return nil
}

// LoadUser loads a user record by email address. Uses HMAC to derive the
// object name, allowing O(1) lookup.
func (s *Store) LoadUser(ctx context.Context, email string) (*lifecycle.UserRecord, error) {
	return s.loadUserKey(ctx, objectKey(userPrefix, s.TokenFromEmail(email)))
}

func (s *Store) loadUserKey(ctx context.Context, key string) (*lifecycle.UserRecord, error) {
	if key == "" {
		return nil, errNotFound
	}

	data, err := s.readObject(ctx, key)
	if err != nil {
		return nil, err
	}

	var user lifecycle.UserRecord
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user record: %w", err)
	}
	if user.LastSent == nil {
		user.LastSent = make(map[string]time.Time)
	}

	return &user, nil
}

// ListUsers lists all stored user records.
func (s *Store) ListUsers(ctx context.Context) ([]*lifecycle.UserRecord, error) {
	var users []*lifecycle.UserRecord

	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), userPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}

			user, err := s.loadUserKey(ctx, entry.Name())
			if err != nil {
				s.logger.Warn("Failed to load user record", "file", entry.Name(), "error", err)
				continue
			}

			users = append(users, user)
		}

		return users, nil
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: userPrefix,
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}

		user, err := s.loadUserKey(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load user record", "key", attrs.Name, "error", err)
			continue
		}

		users = append(users, user)
	}

	return users, nil
}

// Unsubscribe marks an email as unsubscribed. Idempotent.
func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	key := objectKey(unsubPrefix, s.TokenFromEmail(email))
	if key == "" {
		return errors.New("invalid token format")
	}

	data, err := json.Marshal(map[string]string{"email": strings.ToLower(strings.TrimSpace(email))})
	if err != nil {
		return fmt.Errorf("marshal unsubscribe marker: %w", err)
	}

	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}

	s.logger.Info("Unsubscribe recorded", "key", key, "email", email)
	return nil
}

// IsUnsubscribed reports whether an email is in the unsubscribe set.
func (s *Store) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	key := objectKey(unsubPrefix, s.TokenFromEmail(email))
	if key == "" {
		return false, errors.New("invalid token format")
	}

	_, err := s.readObject(ctx, key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) writeObject(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) readObject(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// IsNotFound checks if an error indicates a record was not found.
func IsNotFound(err error) bool {
	return err != nil && (errors.Is(err, errNotFound) || strings.Contains(err.Error(), "storage: object doesn't exist"))
}
