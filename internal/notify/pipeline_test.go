package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberlog/streakd/internal/streak"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeGoals struct {
	goals []GoalWithOwner
	err   error
}

func (f *fakeGoals) LoadEligibleGoals(ctx context.Context) ([]GoalWithOwner, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.goals, nil
}

// fakeRecords is an in-memory record store with real CAS semantics.
type fakeRecords struct {
	mu      sync.Mutex
	records []Record
	times   map[string]*time.Time
	casErr  error
	appErr  error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{times: make(map[string]*time.Time)}
}

func (f *fakeRecords) AppendNotification(ctx context.Context, rec Record) error {
	if f.appErr != nil {
		return f.appErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecords) CompareAndSwapNotificationTime(ctx context.Context, goalID string, expected *time.Time, value time.Time) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.times[goalID]
	switch {
	case current == nil && expected == nil:
	case current != nil && expected != nil && current.Equal(*expected):
	default:
		return false, nil
	}
	f.times[goalID] = &value
	return true, nil
}

func (f *fakeRecords) notificationTime(goalID string) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times[goalID]
}

type fakeGateway struct {
	mu       sync.Mutex
	batches  [][]Message
	outcomes []DeliveryOutcome
	err      error
}

func (f *fakeGateway) SendBatch(ctx context.Context, msgs []Message) ([]DeliveryOutcome, error) {
	f.mu.Lock()
	f.batches = append(f.batches, msgs)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.outcomes != nil {
		return f.outcomes, nil
	}
	outcomes := make([]DeliveryOutcome, len(msgs))
	for i := range outcomes {
		outcomes[i] = DeliveryOutcome{Status: OutcomeDelivered}
	}
	return outcomes, nil
}

func (f *fakeGateway) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func token(s string) *string { return &s }

func eligibleGoal(id string, postedAgo time.Duration, intervalDays int) GoalWithOwner {
	posted := testNow.Add(-postedAgo)
	return GoalWithOwner{
		Goal: streak.Goal{
			ID:                 id,
			UserID:             "user-" + id,
			Title:              "Daily sketch",
			StreakIntervalDays: intervalDays,
			LastPostedAt:       &posted,
		},
		Username:    "casey",
		PushToken:   token("ExponentPushToken[" + id + "]"),
		PushEnabled: true,
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRunOnceEndToEnd(t *testing.T) {
	// Interval 2 days, posted 47h ago: one hour to the deadline, never notified.
	goals := &fakeGoals{goals: []GoalWithOwner{eligibleGoal("g1", 47*time.Hour, 2)}}
	records := newFakeRecords()
	gateway := &fakeGateway{}

	s := NewScheduler(goals, records, gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if summary.GoalsScanned != 1 || summary.Sent != 1 || summary.Suppressed != 0 || summary.DeliveryFailures != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if gateway.batchCount() != 1 {
		t.Fatalf("expected one batch call, got %d", gateway.batchCount())
	}
	if len(records.records) != 1 {
		t.Fatalf("expected one record, got %d", len(records.records))
	}

	rec := records.records[0]
	if rec.Type != "streak_1hr" {
		t.Errorf("record type = %q, want streak_1hr", rec.Type)
	}
	if !strings.Contains(rec.Body, "1 Hour Left") {
		t.Errorf("record body %q missing time phrase", rec.Body)
	}
	if rec.GoalID != "g1" || rec.UserID != "user-g1" {
		t.Errorf("record references %s/%s", rec.UserID, rec.GoalID)
	}
	if !rec.CreatedAt.Equal(testNow) {
		t.Errorf("record created_at = %v, want injected now", rec.CreatedAt)
	}

	got := records.notificationTime("g1")
	if got == nil || !got.Equal(testNow) {
		t.Errorf("notification_time = %v, want %v", got, testNow)
	}
}

func TestRunOnceComposesDeepLinkData(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{eligibleGoal("g1", 21*time.Hour, 1)}}
	gateway := &fakeGateway{}

	s := NewScheduler(goals, newFakeRecords(), gateway, discardLogger())
	if _, err := s.RunOnce(context.Background(), testNow); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	msg := gateway.batches[0][0]
	if msg.Data["goal_id"] != "g1" {
		t.Errorf("data goal_id = %q", msg.Data["goal_id"])
	}
	if msg.Data["type"] != "streak_4hr" {
		t.Errorf("data type = %q", msg.Data["type"])
	}
	if msg.Token != "ExponentPushToken[g1]" {
		t.Errorf("token = %q", msg.Token)
	}
}

func TestRunOnceFiltersIneligibleOwners(t *testing.T) {
	noToken := eligibleGoal("g1", 23*time.Hour, 1)
	noToken.PushToken = nil
	disabled := eligibleGoal("g2", 23*time.Hour, 1)
	disabled.PushEnabled = false
	emptyToken := eligibleGoal("g3", 23*time.Hour, 1)
	emptyToken.PushToken = token("")

	goals := &fakeGoals{goals: []GoalWithOwner{noToken, disabled, emptyToken}}
	gateway := &fakeGateway{}

	s := NewScheduler(goals, newFakeRecords(), gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.GoalsScanned != 3 || summary.Sent != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if gateway.batchCount() != 0 {
		t.Error("ineligible owners must never occupy a dispatch slot")
	}
}

func TestRunOnceSkipsExpiredAndQuietGoals(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{
		eligibleGoal("expired", 25*time.Hour, 1),
		eligibleGoal("quiet", 2*time.Hour, 1),
	}}
	gateway := &fakeGateway{}

	s := NewScheduler(goals, newFakeRecords(), gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Sent != 0 || summary.Suppressed != 0 || gateway.batchCount() != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
}

func TestRunOnceCountsSuppressed(t *testing.T) {
	g := eligibleGoal("g1", 21*time.Hour, 1) // Warn4h due
	notified := testNow.Add(-1 * time.Hour)
	g.LastNotificationAt = &notified

	goals := &fakeGoals{goals: []GoalWithOwner{g}}
	gateway := &fakeGateway{}

	s := NewScheduler(goals, newFakeRecords(), gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.Suppressed != 1 || summary.Sent != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if gateway.batchCount() != 0 {
		t.Error("suppressed goal must not be dispatched")
	}
}

func TestRunOnceLoadFailureAbortsCleanly(t *testing.T) {
	goals := &fakeGoals{err: errors.New("connection refused")}
	gateway := &fakeGateway{}

	s := NewScheduler(goals, newFakeRecords(), gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err == nil {
		t.Fatal("expected error from load failure")
	}
	if summary.GoalsScanned != 0 || summary.Sent != 0 {
		t.Fatalf("load failure must report zero progress, got %s", summary.Summary())
	}
	if gateway.batchCount() != 0 {
		t.Error("load failure must not dispatch")
	}
}

func TestRunOncePartialBatchFailureIsolation(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{
		eligibleGoal("g1", 23*time.Hour, 1),
		eligibleGoal("g2", 23*time.Hour, 1),
		eligibleGoal("g3", 23*time.Hour, 1),
	}}
	records := newFakeRecords()
	gateway := &fakeGateway{outcomes: []DeliveryOutcome{
		{Status: OutcomeDelivered},
		{Status: OutcomeRejected, Reason: "DeviceNotRegistered"},
		{Status: OutcomeDelivered},
	}}

	s := NewScheduler(goals, records, gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if summary.Sent != 2 || summary.DeliveryFailures != 1 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if len(records.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records.records))
	}
	if records.notificationTime("g2") != nil {
		t.Error("failed goal's notification_time must stay unchanged")
	}
	for _, id := range []string{"g1", "g3"} {
		if got := records.notificationTime(id); got == nil || !got.Equal(testNow) {
			t.Errorf("goal %s notification_time = %v, want %v", id, got, testNow)
		}
	}
}

func TestRunOnceWholeBatchGatewayFailure(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{
		eligibleGoal("g1", 23*time.Hour, 1),
		eligibleGoal("g2", 23*time.Hour, 1),
	}}
	records := newFakeRecords()
	gateway := &fakeGateway{err: errors.New("gateway unreachable")}

	s := NewScheduler(goals, records, gateway, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("whole-batch failure is not fatal, got %v", err)
	}
	if summary.DeliveryFailures != 2 || summary.Sent != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if len(records.records) != 0 || records.notificationTime("g1") != nil {
		t.Error("nothing may commit when the batch call fails")
	}
}

// Two overlapping runs over the same goal commit exactly once: the loser of
// the CAS treats the goal as already handled.
func TestConcurrentRunsCommitAtMostOnce(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{eligibleGoal("g1", 47*time.Hour, 2)}}
	records := newFakeRecords()
	gateway := &fakeGateway{}

	s1 := NewScheduler(goals, records, gateway, discardLogger())
	s2 := NewScheduler(goals, records, gateway, discardLogger())

	var wg sync.WaitGroup
	summaries := make([]RunSummary, 2)
	for i, s := range []*Scheduler{s1, s2} {
		wg.Add(1)
		go func(i int, s *Scheduler) {
			defer wg.Done()
			summary, err := s.RunOnce(context.Background(), testNow)
			if err != nil {
				t.Errorf("RunOnce() error = %v", err)
			}
			summaries[i] = summary
		}(i, s)
	}
	wg.Wait()

	if len(records.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records.records))
	}
	sent := summaries[0].Sent + summaries[1].Sent
	lost := summaries[0].CASLosses + summaries[1].CASLosses
	if sent != 1 || lost != 1 {
		t.Fatalf("sent=%d cas_losses=%d, want 1 and 1", sent, lost)
	}
	if got := records.notificationTime("g1"); got == nil || !got.Equal(testNow) {
		t.Errorf("notification_time = %v, want %v", got, testNow)
	}
}

func TestRunOnceAuditFailureIsNonFatal(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{eligibleGoal("g1", 23*time.Hour, 1)}}
	records := newFakeRecords()
	records.appErr = errors.New("insert failed")

	s := NewScheduler(goals, records, &fakeGateway{}, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	// Timestamp advanced, so the send still counts and cannot repeat.
	if summary.Sent != 1 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
	if got := records.notificationTime("g1"); got == nil || !got.Equal(testNow) {
		t.Errorf("notification_time = %v, want %v", got, testNow)
	}
}

func TestRunOnceCommitErrorCounted(t *testing.T) {
	goals := &fakeGoals{goals: []GoalWithOwner{eligibleGoal("g1", 23*time.Hour, 1)}}
	records := newFakeRecords()
	records.casErr = errors.New("write timeout")

	s := NewScheduler(goals, records, &fakeGateway{}, discardLogger())
	summary, err := s.RunOnce(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary.CommitErrors != 1 || summary.Sent != 0 {
		t.Fatalf("unexpected summary: %s", summary.Summary())
	}
}
