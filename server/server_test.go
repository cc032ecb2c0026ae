package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"lifecycle-notifier/engine"
	"lifecycle-notifier/pkg/lifecycle"
)

type fakeSyncer struct {
	result *lifecycle.SyncResult
	err    error
}

func (f *fakeSyncer) Sync(_ context.Context) (*lifecycle.SyncResult, error) {
	return f.result, f.err
}

type fakeUnsubs struct {
	emails []string
	err    error
}

func (f *fakeUnsubs) Unsubscribe(_ context.Context, email string) error {
	if f.err != nil {
		return f.err
	}
	f.emails = append(f.emails, email)
	return nil
}

var testIP int

// newRequest builds a request with a unique client IP so the package-level
// rate limiter never carries state between tests.
func newRequest(method, target string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, target, http.NoBody)
	}
	testIP++
	r.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.%d.%d", testIP/256, testIP%256))
	return r
}

func testServer(syncer Syncer, unsubs Unsubscribes) *Server {
	return New(&Config{
		Syncer: syncer,
		Unsubs: unsubs,
		Logger: slog.New(slog.DiscardHandler),
	})
}

func TestHandleHealth(t *testing.T) {
	h := testServer(&fakeSyncer{}, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/health", ""))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandleRoot(t *testing.T) {
	h := testServer(&fakeSyncer{}, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/nope", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestHandleSync(t *testing.T) {
	syncer := &fakeSyncer{result: &lifecycle.SyncResult{Recordings: 7, Created: 2, Sent: 1}}
	h := testServer(syncer, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "/sync", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool                 `json:"success"`
		Result  lifecycle.SyncResult `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Result.Recordings != 7 || resp.Result.Sent != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleSyncMethodNotAllowed(t *testing.T) {
	h := testServer(&fakeSyncer{}, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/sync", ""))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /sync status = %d, want 405", rec.Code)
	}
}

func TestHandleSyncConflict(t *testing.T) {
	h := testServer(&fakeSyncer{err: engine.ErrSyncInProgress}, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "/sync", ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 while a cycle is running", rec.Code)
	}
}

func TestHandleSyncFailure(t *testing.T) {
	h := testServer(&fakeSyncer{err: fmt.Errorf("list users: bucket gone")}, &fakeUnsubs{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "/sync", ""))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleUnsubscribeGet(t *testing.T) {
	unsubs := &fakeUnsubs{}
	h := testServer(&fakeSyncer{}, unsubs).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/unsubscribe?email=User%40Example.com", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want an HTML confirmation page", ct)
	}
	if !strings.Contains(rec.Body.String(), "Unsubscribed successfully") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(unsubs.emails) != 1 || unsubs.emails[0] != "user@example.com" {
		t.Errorf("recorded emails = %v, want normalized address", unsubs.emails)
	}
}

func TestHandleUnsubscribePost(t *testing.T) {
	unsubs := &fakeUnsubs{}
	h := testServer(&fakeSyncer{}, unsubs).Handler()

	form := url.Values{"email": {"form@example.com"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "/unsubscribe", form.Encode()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(unsubs.emails) != 1 || unsubs.emails[0] != "form@example.com" {
		t.Errorf("recorded emails = %v", unsubs.emails)
	}
}

func TestHandleUnsubscribeInvalidEmail(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"missing", "/unsubscribe"},
		{"no at sign", "/unsubscribe?email=notanemail"},
		{"no tld", "/unsubscribe?email=a%40b"},
		{"injection attempt", "/unsubscribe?email=%3Cscript%3E%40example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsubs := &fakeUnsubs{}
			h := testServer(&fakeSyncer{}, unsubs).Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newRequest(http.MethodGet, tt.query, ""))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(unsubs.emails) != 0 {
				t.Errorf("invalid email recorded: %v", unsubs.emails)
			}
		})
	}
}

func TestHandleUnsubscribeRateLimit(t *testing.T) {
	h := testServer(&fakeSyncer{}, &fakeUnsubs{}).Handler()

	ip := "10.99.0.1"
	var last int
	for i := 0; i < 6; i++ {
		r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/unsubscribe?email=u%d%%40example.com", i), http.NoBody)
		r.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("sixth request status = %d, want 429", last)
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"user@example.com", true},
		{"a.b+c@sub.example.org", true},
		{"", false},
		{"user@", false},
		{"@example.com", false},
		{"user@example", false},
		{"user name@example.com", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}

	for _, tt := range tests {
		if got := isValidEmail(tt.email); got != tt.want {
			t.Errorf("isValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}
