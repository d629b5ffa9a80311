package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emberlog/streakd/internal/streak"
)

// Scheduler runs the streak-expiration notification pipeline.
type Scheduler struct {
	goals         GoalStore
	records       RecordStore
	gateway       Gateway
	logger        *slog.Logger
	commitWorkers int
}

// NewScheduler creates a scheduler over the given collaborators.
func NewScheduler(goals GoalStore, records RecordStore, gateway Gateway, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		goals:         goals,
		records:       records,
		gateway:       gateway,
		logger:        logger,
		commitWorkers: defaultCommitWorkers,
	}
}

// candidate pairs a goal with its due tier through compose and commit.
type candidate struct {
	goal GoalWithOwner
	tier streak.Tier
}

// RunOnce executes a single scheduler pass at the injected instant.
// A load failure aborts with zero progress; every later failure is
// per-goal and surfaces only in the summary.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (RunSummary, error) {
	start := time.Now()
	var summary RunSummary

	goals, err := s.goals.LoadEligibleGoals(ctx)
	if err != nil {
		return summary, fmt.Errorf("load eligible goals: %w", err)
	}
	summary.GoalsScanned = len(goals)

	// Evaluate and dedup
	var due []candidate
	for _, g := range goals {
		if !g.PushEligible() {
			continue
		}
		tier := streak.Evaluate(g.Goal, now)
		if tier != streak.TierWarn4h && tier != streak.TierWarn1h {
			continue
		}
		if streak.Suppressed(tier, g.LastNotificationAt, now) {
			summary.Suppressed++
			continue
		}
		due = append(due, candidate{goal: g, tier: tier})
	}

	if len(due) == 0 {
		summary.Duration = time.Since(start)
		s.logger.Info("No streak notifications due", "scanned", summary.GoalsScanned)
		return summary, nil
	}

	// Compose
	msgs := make([]Message, len(due))
	recs := make([]Record, len(due))
	for i, c := range due {
		msgs[i], recs[i] = Compose(c.goal, c.tier)
	}

	// Dispatch one batch
	outcomes, err := s.gateway.SendBatch(ctx, msgs)
	if err != nil {
		// Whole-batch failure: nothing was committed, next tick retries.
		s.logger.Error("push batch failed", "messages", len(msgs), "error", err)
		summary.DeliveryFailures = len(msgs)
		summary.Duration = time.Since(start)
		return summary, nil
	}
	if len(outcomes) != len(msgs) {
		s.logger.Error("gateway returned mismatched outcomes",
			"messages", len(msgs), "outcomes", len(outcomes))
		summary.DeliveryFailures = len(msgs)
		summary.Duration = time.Since(start)
		return summary, nil
	}

	// Commit delivered messages, fan-out across disjoint goal rows.
	s.commit(ctx, now, due, recs, outcomes, &summary)

	summary.Duration = time.Since(start)
	s.logger.Info("Scheduler run complete", "summary", summary.Summary())
	return summary, nil
}

// commit persists records and advances notification_time for every delivered
// message. Each goal's commit is self-contained: the CAS is the idempotency
// boundary against overlapping runs.
func (s *Scheduler) commit(ctx context.Context, now time.Time, due []candidate, recs []Record, outcomes []DeliveryOutcome, summary *RunSummary) {
	workers := s.commitWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(due) {
		workers = len(due)
	}

	ch := make(chan int, len(due))
	for i := range due {
		ch <- i
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range ch {
				outcome := outcomes[i]
				goal := due[i].goal

				if !outcome.Delivered() {
					s.logger.Warn("delivery failed",
						"goal_id", goal.ID, "tier", due[i].tier.String(),
						"status", outcome.Status, "reason", outcome.Reason)
					mu.Lock()
					summary.DeliveryFailures++
					mu.Unlock()
					continue
				}

				ok, err := s.records.CompareAndSwapNotificationTime(ctx, goal.ID, goal.LastNotificationAt, now)
				if err != nil {
					s.logger.Error("commit notification time failed",
						"goal_id", goal.ID, "error", err)
					mu.Lock()
					summary.CommitErrors++
					mu.Unlock()
					continue
				}
				if !ok {
					// Another run already covered this goal.
					mu.Lock()
					summary.CASLosses++
					mu.Unlock()
					continue
				}

				rec := recs[i]
				rec.CreatedAt = now
				if err := s.records.AppendNotification(ctx, rec); err != nil {
					// Non-fatal: the timestamp already advanced, so the goal
					// cannot double-send even with the audit row missing.
					s.logger.Warn("append notification record failed",
						"goal_id", goal.ID, "error", err)
				}
				mu.Lock()
				summary.Sent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
