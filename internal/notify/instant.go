package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Instant notification types fired synchronously by user actions.
const (
	InstantFriendRequest  = "friend_request"
	InstantFriendAccepted = "friend_accepted"
)

// InstantRequest asks for one immediate notification to one user.
type InstantRequest struct {
	UserID string            `json:"user_id"`
	Type   string            `json:"type"`
	Data   map[string]string `json:"data"`
}

// InstantResult reports whether the notification was actually sent.
type InstantResult struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// Instant sends event-driven notifications. It shares the push gateway and
// record store with the scheduler but has no time-window or dedup logic.
type Instant struct {
	users   UserStore
	records RecordStore
	gateway Gateway
	logger  *slog.Logger
}

// NewInstant creates the instant notification sender.
func NewInstant(users UserStore, records RecordStore, gateway Gateway, logger *slog.Logger) *Instant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instant{users: users, records: records, gateway: gateway, logger: logger}
}

// Send resolves the target user, checks push eligibility, dispatches one
// message, and appends an audit record on delivery.
func (i *Instant) Send(ctx context.Context, req InstantRequest) (InstantResult, error) {
	var title, body string
	switch req.Type {
	case InstantFriendRequest:
		title = "👋 New Friend Request"
		body = fmt.Sprintf("%s wants to be friends!", req.Data["from_username"])
	case InstantFriendAccepted:
		title = "🎉 Friend Request Accepted"
		body = fmt.Sprintf("%s accepted your friend request!", req.Data["from_username"])
	default:
		return InstantResult{}, fmt.Errorf("unknown notification type %q", req.Type)
	}

	user, err := i.users.GetPushUser(ctx, req.UserID)
	if err != nil {
		return InstantResult{}, err
	}
	if !user.PushEligible() {
		i.logger.Info("instant notification skipped",
			"user_id", req.UserID, "type", req.Type, "reason", "notifications_disabled")
		return InstantResult{Sent: false, Reason: "notifications_disabled"}, nil
	}

	msg := Message{Token: *user.PushToken, Title: title, Body: body, Data: req.Data}
	outcomes, err := i.gateway.SendBatch(ctx, []Message{msg})
	if err != nil {
		return InstantResult{}, fmt.Errorf("send instant notification: %w", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Delivered() {
		reason := "gateway_error"
		if len(outcomes) == 1 {
			reason = outcomes[0].Reason
		}
		return InstantResult{Sent: false, Reason: reason}, nil
	}

	rec := Record{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     title,
		Body:      body,
		Data:      req.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.records.AppendNotification(ctx, rec); err != nil {
		// Delivered either way; the audit row is best-effort here.
		i.logger.Warn("append instant record failed", "user_id", req.UserID, "error", err)
	}
	return InstantResult{Sent: true}, nil
}
