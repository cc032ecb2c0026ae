package engine

import (
	"testing"
	"time"

	"lifecycle-notifier/pkg/lifecycle"
)

func day(now time.Time, d int) time.Time {
	return now.Add(time.Duration(d) * 24 * time.Hour)
}

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		sessions  []time.Time
		startTime time.Time
		want      lifecycle.Segment
	}{
		{
			name:      "no sessions",
			sessions:  nil,
			startTime: day(now, -30),
			want:      lifecycle.SegmentNone,
		},
		{
			name:      "single session never classifies",
			sessions:  []time.Time{day(now, -20)},
			startTime: day(now, -20),
			want:      lifecycle.SegmentNone,
		},
		{
			name:      "last session exactly 14 days old is dormant (inclusive boundary)",
			sessions:  []time.Time{day(now, -28), day(now, -14)},
			startTime: day(now, -28),
			want:      lifecycle.SegmentDormant,
		},
		{
			name:      "last session well past threshold is dormant",
			sessions:  []time.Time{day(now, -60), day(now, -40)},
			startTime: day(now, -60),
			want:      lifecycle.SegmentDormant,
		},
		{
			name:      "recent activity after a quiet prior week is resurrecting",
			sessions:  []time.Time{day(now, -20), day(now, -3), day(now, -1)},
			startTime: day(now, -20),
			want:      lifecycle.SegmentResurrecting,
		},
		{
			name:      "young account's first burst is not a comeback",
			sessions:  []time.Time{day(now, -6), day(now, -2)},
			startTime: day(now, -10),
			want:      lifecycle.SegmentNone,
		},
		{
			name:      "account exactly 14 days old can resurrect",
			sessions:  []time.Time{day(now, -14), day(now, -1)},
			startTime: day(now, -14),
			want:      lifecycle.SegmentResurrecting,
		},
		{
			name:      "activity in both windows is returning",
			sessions:  []time.Time{day(now, -10), day(now, -2)},
			startTime: day(now, -30),
			want:      lifecycle.SegmentReturning,
		},
		{
			name:      "lull: prior-window activity only is not yet dormant",
			sessions:  []time.Time{day(now, -20), day(now, -10)},
			startTime: day(now, -20),
			want:      lifecycle.SegmentNone,
		},
		{
			name:      "session just inside the dormancy threshold is not dormant",
			sessions:  []time.Time{day(now, -28), day(now, -14).Add(time.Minute)},
			startTime: day(now, -28),
			want:      lifecycle.SegmentNone, // prior-window activity only, a lull
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sessions, tt.startTime, now)
			if got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestClassifyIsPure verifies classification does not mutate its input and
// yields the same result on repeated evaluation.
func TestClassifyIsPure(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	sessions := []time.Time{day(now, -20), day(now, -3), day(now, -1)}
	start := day(now, -20)

	first := Classify(sessions, start, now)
	second := Classify(sessions, start, now)

	if first != second {
		t.Errorf("Classify() not deterministic: %q then %q", first, second)
	}
	if !sessions[0].Equal(day(now, -20)) || !sessions[2].Equal(day(now, -1)) {
		t.Error("Classify() mutated its input slice")
	}
}
