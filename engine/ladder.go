package engine

import (
	"time"

	"lifecycle-notifier/pkg/lifecycle"
)

// tier is one rung of the volume ladder. A rung unlocks at its session-count
// threshold and, except for the first, only after the previous rung's
// template has been sent.
type tier struct {
	template  string
	prereq    string // template that must have been sent first, "" for none
	threshold int
}

// Evaluated highest first, so a user never advances more than one rung per
// cycle regardless of how far their count has run ahead.
var tiers = []tier{
	{template: lifecycle.TemplateTierX, prereq: lifecycle.TemplateTierB, threshold: 1000},
	{template: lifecycle.TemplateTierB, prereq: lifecycle.TemplateTierA, threshold: 500},
	{template: lifecycle.TemplateTierA, prereq: "", threshold: 200},
}

// ProposeTier returns the volume-tier template proposed for a user with the
// given cumulative session count and send history, or "" when no rung is
// eligible.
func ProposeTier(count int, lastSent map[string]time.Time) string {
	for _, t := range tiers {
		if count < t.threshold {
			continue
		}
		if t.prereq != "" {
			if _, sent := lastSent[t.prereq]; !sent {
				continue
			}
		}
		return t.template
	}
	return ""
}
