// Package streak evaluates whether a goal's posting streak is close enough
// to its deadline to warrant a warning notification, and whether a due
// warning should be suppressed by a recent earlier send.
//
// Everything here is pure time arithmetic — callers inject the clock reading.
package streak

import "time"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Warning windows before the streak deadline. Half-open: a goal exactly
	// 4h from its deadline is Warn4h, exactly 1h is Warn1h.
	warn4hWindow = 4 * time.Hour
	warn1hWindow = 1 * time.Hour

	// Per-tier cool-downs on last_notification_at. Independent: a 4-hour
	// warning sent under 3h ago never blocks a due 1-hour warning.
	warn4hCooldown = 3 * time.Hour
	warn1hCooldown = 30 * time.Minute
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Tier is an escalating warning level for a goal approaching its deadline.
type Tier int

const (
	TierNone Tier = iota
	TierWarn4h
	TierWarn1h
	TierExpired // streak already lapsed; nothing to send
)

// String returns the notification type key for a tier.
func (t Tier) String() string {
	switch t {
	case TierWarn4h:
		return "streak_4hr"
	case TierWarn1h:
		return "streak_1hr"
	case TierExpired:
		return "expired"
	default:
		return "none"
	}
}

// Goal carries the fields the scheduler reads from a goals row.
type Goal struct {
	ID                 string
	UserID             string
	Title              string
	StreakIntervalDays int
	LastPostedAt       *time.Time
	LastNotificationAt *time.Time
	Completed          bool
}

// Eligible reports whether a goal participates in evaluation at all:
// not completed, and the owner has posted at least once.
func (g Goal) Eligible() bool {
	return !g.Completed && g.LastPostedAt != nil
}

// Deadline returns the instant the streak lapses.
// Only valid for eligible goals.
func (g Goal) Deadline() time.Time {
	return g.LastPostedAt.Add(time.Duration(g.StreakIntervalDays) * 24 * time.Hour)
}

// --------------------------------------------------------------------------
// Evaluation
// --------------------------------------------------------------------------

// Evaluate returns the warning tier due for a goal at the given instant.
// Tighter windows win: a goal inside the 1-hour window is Warn1h even though
// it is arithmetically inside the 4-hour window too.
func Evaluate(g Goal, now time.Time) Tier {
	if !g.Eligible() {
		return TierNone
	}

	remaining := g.Deadline().Sub(now)
	switch {
	case remaining <= 0:
		return TierExpired
	case remaining <= warn1hWindow:
		return TierWarn1h
	case remaining <= warn4hWindow:
		return TierWarn4h
	default:
		return TierNone
	}
}

// Suppressed reports whether a due tier should be skipped because a warning
// was already sent recently. Each tier has its own cool-down against the
// single last_notification_at timestamp; a never-notified goal is never
// suppressed.
func Suppressed(tier Tier, lastNotificationAt *time.Time, now time.Time) bool {
	if lastNotificationAt == nil {
		return false
	}

	elapsed := now.Sub(*lastNotificationAt)
	switch tier {
	case TierWarn4h:
		return elapsed < warn4hCooldown
	case TierWarn1h:
		return elapsed < warn1hCooldown
	default:
		return false
	}
}
