package engine

import "time"

// defaultCooldown is the minimum gap between two sends of the same template
// to the same user.
const defaultCooldown = 14 * 24 * time.Hour

// ShouldSend reports whether a candidate template may be sent now given the
// user's per-template send history. Each template family cools down
// independently: a prior send of one template never blocks a different one.
func ShouldSend(lastSent map[string]time.Time, template string, now time.Time, cooldown time.Duration) bool {
	sentAt, ok := lastSent[template]
	if !ok || sentAt.IsZero() {
		return true
	}
	return now.Sub(sentAt) >= cooldown
}
