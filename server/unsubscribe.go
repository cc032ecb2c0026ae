package server

import (
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Rate limiter for unsubscribe requests (max 5 per IP per hour).
type rateLimiter struct {
	clients map[string][]time.Time
	mu      sync.Mutex
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	// Clean old entries
	timestamps := rl.clients[ip]
	var recent []time.Time
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= 5 {
		return false
	}

	recent = append(recent, now)
	rl.clients[ip] = recent
	return true
}

var unsubscribeRateLimiter = newRateLimiter()

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (Cloud Run)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	// Use mail.ParseAddress for robust validation
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

// handleUnsubscribe upserts an email into the unsubscribe set. GET serves a
// browser-friendly confirmation page (the link used in outbound emails);
// POST accepts a form submission.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// Rate limiting by IP to prevent enumeration and abuse
	ip := clientIP(r)
	if !unsubscribeRateLimiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	var email string
	switch r.Method {
	case http.MethodGet:
		email = strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email")))
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		email = strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !isValidEmail(email) {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	if err := s.unsubs.Unsubscribe(r.Context(), email); err != nil {
		s.logger.Error("Failed to record unsubscribe", "email", email, "error", err)
		http.Error(w, "Error unsubscribing", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Unsubscribed", "email", email, "ip", ip)

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, "<h1>Unsubscribed successfully</h1><p>%s has been unsubscribed.</p>", escapeHTML(email)); err != nil {
			s.logger.Warn("Failed to write response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "Unsubscribed successfully."); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
