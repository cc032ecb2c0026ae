package engine

import (
	"testing"
	"time"

	"lifecycle-notifier/pkg/lifecycle"
)

func TestProposeTier(t *testing.T) {
	sent := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		count    int
		lastSent map[string]time.Time
		want     string
	}{
		{
			name:     "below first threshold",
			count:    199,
			lastSent: map[string]time.Time{},
			want:     "",
		},
		{
			name:     "first rung at threshold",
			count:    200,
			lastSent: map[string]time.Time{},
			want:     lifecycle.TemplateTierA,
		},
		{
			name:     "high count with no history still starts at the bottom",
			count:    1200,
			lastSent: map[string]time.Time{},
			want:     lifecycle.TemplateTierA,
		},
		{
			name:     "second rung requires first rung sent",
			count:    500,
			lastSent: map[string]time.Time{},
			want:     lifecycle.TemplateTierA,
		},
		{
			name:     "second rung unlocked by first send",
			count:    500,
			lastSent: map[string]time.Time{lifecycle.TemplateTierA: sent},
			want:     lifecycle.TemplateTierB,
		},
		{
			name:     "third rung unlocked by second send",
			count:    1000,
			lastSent: map[string]time.Time{lifecycle.TemplateTierA: sent, lifecycle.TemplateTierB: sent},
			want:     lifecycle.TemplateTierX,
		},
		{
			name:  "skipping a rung is not allowed",
			count: 1000,
			lastSent: map[string]time.Time{
				lifecycle.TemplateTierA: sent,
			},
			want: lifecycle.TemplateTierB,
		},
		{
			name:  "ladder complete, nothing further to propose",
			count: 5000,
			lastSent: map[string]time.Time{
				lifecycle.TemplateTierA: sent,
				lifecycle.TemplateTierB: sent,
				lifecycle.TemplateTierX: sent,
			},
			want: lifecycle.TemplateTierX,
		},
		{
			name:     "nil history behaves like empty",
			count:    300,
			lastSent: nil,
			want:     lifecycle.TemplateTierA,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProposeTier(tt.count, tt.lastSent)
			if got != tt.want {
				t.Errorf("ProposeTier(%d) = %q, want %q", tt.count, got, tt.want)
			}
		})
	}
}
