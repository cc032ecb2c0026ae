package engine

import (
	"time"

	"lifecycle-notifier/pkg/lifecycle"
)

const (
	periodLength                 = 7 * 24 * time.Hour
	inactiveThreshold            = 14 * 24 * time.Hour
	minAccountAgeForResurrection = 14 * 24 * time.Hour
)

// Classify derives an engagement segment from a user's session history.
// sessions must be sorted ascending; the segment is recomputed fresh from the
// full history every cycle, nothing is advanced incrementally.
//
// Rules, first match wins:
//  1. Zero or one session: no lifecycle history to classify.
//  2. Last session at or before now-14d: Dormant.
//  3. Activity in the last 7 days but none in the 7 days before that:
//     Resurrecting, unless the account is younger than 14 days (a new
//     account's first burst is not a comeback).
//  4. Activity in both windows: Returning.
//  5. Anything else (a lull that is not yet dormancy): no segment.
func Classify(sessions []time.Time, startTime, now time.Time) lifecycle.Segment {
	if len(sessions) <= 1 {
		return lifecycle.SegmentNone
	}

	lastSession := sessions[len(sessions)-1]
	inactiveCutoff := now.Add(-inactiveThreshold)
	if !lastSession.After(inactiveCutoff) {
		return lifecycle.SegmentDormant
	}

	cutoffP0 := now.Add(-periodLength)
	cutoffP1 := now.Add(-2 * periodLength)

	var p0, p1 int
	for _, t := range sessions {
		switch {
		case t.After(cutoffP0):
			p0++
		case t.After(cutoffP1):
			p1++
		}
	}

	switch {
	case p0 > 0 && p1 == 0:
		if now.Sub(startTime) >= minAccountAgeForResurrection {
			return lifecycle.SegmentResurrecting
		}
		return lifecycle.SegmentNone
	case p0 > 0 && p1 > 0:
		return lifecycle.SegmentReturning
	default:
		return lifecycle.SegmentNone
	}
}
