package notify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/emberlog/streakd/internal/streak"
)

// Compose builds the push message and audit record for a due warning tier.
// Deterministic apart from the record ID: the data payload carries goal_id
// and type so the client can deep-link without a server round-trip.
func Compose(g GoalWithOwner, tier streak.Tier) (Message, Record) {
	var title, body string
	switch tier {
	case streak.TierWarn4h:
		title = fmt.Sprintf("⚠️ %s - 4 Hours Left!", g.Title)
		body = "4 Hours Left! Post now to keep your streak alive! 🔥"
	case streak.TierWarn1h:
		title = fmt.Sprintf("🚨 %s - 1 Hour Left!", g.Title)
		body = "1 Hour Left! Last chance to post before your streak resets! ⏰"
	}

	data := map[string]string{
		"goal_id": g.ID,
		"type":    tier.String(),
	}

	msg := Message{
		Title: title,
		Body:  body,
		Data:  data,
	}
	if g.PushToken != nil {
		msg.Token = *g.PushToken
	}

	rec := Record{
		ID:     uuid.NewString(),
		UserID: g.UserID,
		GoalID: g.ID,
		Type:   tier.String(),
		Title:  title,
		Body:   body,
		Data:   data,
	}
	return msg, rec
}
