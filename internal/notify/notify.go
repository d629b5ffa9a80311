// Package notify is the streak-expiration notification scheduler.
//
// Pipeline: load eligible goals → evaluate warning tiers → dedup against
// recent sends → compose payloads → dispatch one push batch → commit
// per-goal state behind a compare-and-swap.
//
// A run is driven by an injected clock reading, so overlapping invocations
// are safe: the only shared write is the goal's notification_time, and every
// write goes through the conditional update in the record store.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/emberlog/streakd/internal/streak"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultRunInterval   = 15 * time.Minute
	defaultCommitWorkers = 4
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// GoalWithOwner is a goal joined with the owner's push delivery fields.
type GoalWithOwner struct {
	streak.Goal

	Username    string
	PushToken   *string
	PushEnabled bool
}

// PushEligible reports whether the owner can receive push notifications.
func (g GoalWithOwner) PushEligible() bool {
	return g.PushEnabled && g.PushToken != nil && *g.PushToken != ""
}

// Message is a composed push payload ready for the gateway.
type Message struct {
	Token string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Delivery outcome statuses returned by the push gateway.
const (
	OutcomeDelivered    = "delivered"
	OutcomeRejected     = "rejected"
	OutcomeGatewayError = "gateway_error"
)

// DeliveryOutcome is the per-message result of a batch dispatch.
type DeliveryOutcome struct {
	Status string
	Reason string
}

// Delivered reports whether the message reached the gateway successfully.
func (o DeliveryOutcome) Delivered() bool { return o.Status == OutcomeDelivered }

// Record is an immutable notification audit entry.
type Record struct {
	ID        string
	UserID    string
	GoalID    string
	Type      string
	Title     string
	Body      string
	Data      map[string]string
	CreatedAt time.Time
}

// RunSummary reports the outcome of one scheduler run.
type RunSummary struct {
	GoalsScanned     int           `json:"goals_scanned"`
	Sent             int           `json:"notifications_sent"`
	Suppressed       int           `json:"notifications_suppressed"`
	DeliveryFailures int           `json:"delivery_failures"`
	CASLosses        int           `json:"cas_losses"`
	CommitErrors     int           `json:"commit_errors"`
	Duration         time.Duration `json:"duration_ns"`
}

// Summary returns a human-readable summary line.
func (s *RunSummary) Summary() string {
	return fmt.Sprintf(
		"scanned=%d sent=%d suppressed=%d failed=%d cas_lost=%d commit_errs=%d dur=%s",
		s.GoalsScanned, s.Sent, s.Suppressed, s.DeliveryFailures,
		s.CASLosses, s.CommitErrors, s.Duration.Round(time.Millisecond))
}

// --------------------------------------------------------------------------
// Collaborator interfaces
// --------------------------------------------------------------------------

// GoalStore loads active goals joined with owner push eligibility.
type GoalStore interface {
	LoadEligibleGoals(ctx context.Context) ([]GoalWithOwner, error)
}

// RecordStore persists notification history and goal notification state.
type RecordStore interface {
	AppendNotification(ctx context.Context, rec Record) error

	// CompareAndSwapNotificationTime advances a goal's notification_time
	// only if it still holds the value read at the start of the run.
	// Returns false (no error) when another run already advanced it.
	CompareAndSwapNotificationTime(ctx context.Context, goalID string, expected *time.Time, value time.Time) (bool, error)
}

// Gateway sends a batch of push messages and reports per-message outcomes.
// A partially failing batch is the expected case, not an error.
type Gateway interface {
	SendBatch(ctx context.Context, msgs []Message) ([]DeliveryOutcome, error)
}

// UserStore resolves a single user's push delivery fields.
// Used by the instant (non-scheduled) notification path.
type UserStore interface {
	GetPushUser(ctx context.Context, userID string) (PushUser, error)
}

// PushUser carries the user fields the push paths read.
type PushUser struct {
	Username    string
	PushToken   *string
	PushEnabled bool
}

// PushEligible reports whether the user can receive push notifications.
func (u PushUser) PushEligible() bool {
	return u.PushEnabled && u.PushToken != nil && *u.PushToken != ""
}
