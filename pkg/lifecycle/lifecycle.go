// Package lifecycle contains the core domain types for the session lifecycle
// notification service.
package lifecycle

import "time"

// Segment is the engagement classification derived from session recency.
type Segment string

// Lifecycle segments. Each maps to an email template of the same name.
const (
	SegmentDormant      Segment = "Dormant"
	SegmentResurrecting Segment = "Resurrecting"
	SegmentReturning    Segment = "Returning"
	SegmentNone         Segment = ""
)

// Volume-tier template names. Each tier requires the previous one as a
// prerequisite before it becomes eligible.
const (
	TemplateTierA = "Template A"
	TemplateTierB = "Template B"
	TemplateTierX = "Template X"
)

// UserRecord tracks one user's session history and send bookkeeping.
// Invariants: Count == len(SessionHistory), EndTime == max(SessionHistory),
// StartTime is set once at creation and never changes.
type UserRecord struct {
	LastSent       map[string]time.Time `json:"last_sent"` // template name -> last send decision time
	Email          string               `json:"email"`
	SessionHistory []time.Time          `json:"session_history"` // distinct instants, kept sorted ascending
	StartTime      time.Time            `json:"start_time"`
	EndTime        time.Time            `json:"end_time"`
	CreatedAt      time.Time            `json:"created_at"`
	Count          int                  `json:"count"`
}

// Recording is one session recording item from the analytics source.
// StartTime and EndTime may be zero when the source omits them.
type Recording struct {
	StartTime time.Time
	EndTime   time.Time
	Email     string // empty when the person has no email property
}

// SyncResult summarizes one sync cycle.
type SyncResult struct {
	Recordings   int `json:"recordings"`    // raw items fetched from the analytics source
	Created      int `json:"created"`       // new user records
	Updated      int `json:"updated"`       // existing records with new sessions merged
	Skipped      int `json:"skipped"`       // users excluded because unsubscribed
	Classified   int `json:"classified"`    // users with at least one approved template
	Sent         int `json:"sent"`          // recipients across all dispatched buckets
	FailedUsers  int `json:"failed_users"`  // per-user persistence failures (cycle continued)
	FailedSends  int `json:"failed_sends"`  // template buckets whose dispatch failed
}
