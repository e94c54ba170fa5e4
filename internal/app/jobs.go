/**
 * @description
 * Scheduled job implementations for the renewal service: rolling renewal
 * dates forward, firing renewal reminders, and following up on unverified
 * cancellation attempts.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/subsnooze/renewal-service/internal/cancellation"
	"github.com/subsnooze/renewal-service/internal/config"
	"github.com/subsnooze/renewal-service/internal/domain"
	"github.com/subsnooze/renewal-service/internal/reminder"
	"github.com/subsnooze/renewal-service/internal/renewal"
	"github.com/subsnooze/renewal-service/internal/store"
)

// Job names accepted by Run.
const (
	JobRenewals        = "renewals"
	JobReminders       = "reminders"
	JobCancelFollowUps = "cancel-followups"
)

// ErrUnknownJob is returned by Run for a name it does not know.
var ErrUnknownJob = errors.New("unknown job")

// Repository defines database operations needed by the jobs.
type Repository interface {
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ListStaleActiveSubscriptions(ctx context.Context, through string) ([]domain.ReminderCandidate, error)
	ListReminderCandidates(ctx context.Context) ([]domain.ReminderCandidate, error)
	ListCancellationFollowUpCandidates(ctx context.Context, olderThan time.Time) ([]domain.CancellationCandidate, error)
	UpdateRenewalPeriod(ctx context.Context, id, previousDate, newDate string) error
	RecordReminder(ctx context.Context, renewalDate string, flag domain.FlagName, n domain.NotificationRequest) (bool, error)
	RecordCancelFollowUp(ctx context.Context, attemptAt time.Time, n domain.NotificationRequest) (bool, error)
	RecordCancelAttempt(ctx context.Context, id string, at time.Time) error
	SaveCancellationOutcome(ctx context.Context, sub domain.Subscription, saved float64) error
}

// Publisher hands delivery requests to the push and email workers.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// ItemError records a single subscription that could not be processed.
type ItemError struct {
	SubscriptionID string `json:"subscription_id"`
	Stage          string `json:"stage"`
	Error          string `json:"error"`
}

// BatchResult summarizes one job run. Item failures never abort the batch.
type BatchResult struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	Notified  int           `json:"notified"`
	Skipped   int           `json:"skipped"`
	Errors    []ItemError   `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// batch is the mutex-guarded tally shared by a run's workers.
type batch struct {
	mu  sync.Mutex
	res BatchResult
}

func (b *batch) count(processed, updated, notified, skipped int) {
	b.mu.Lock()
	b.res.Processed += processed
	b.res.Updated += updated
	b.res.Notified += notified
	b.res.Skipped += skipped
	b.mu.Unlock()
}

func (b *batch) fail(subID, stage string, err error) {
	b.mu.Lock()
	b.res.Errors = append(b.res.Errors, ItemError{SubscriptionID: subID, Stage: stage, Error: err.Error()})
	b.mu.Unlock()
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      Repository
	publisher Publisher
	locker    JobLocker
	metrics   *Metrics
	logger    *slog.Logger
	config    config.Config
	loc       *time.Location
	zones     sync.Map // zone name -> *time.Location, nil when invalid
	now       func() time.Time
}

// NewJobs creates a new Jobs runner. locker and metrics may be nil.
func NewJobs(repo Repository, publisher Publisher, locker JobLocker, metrics *Metrics, logger *slog.Logger, cfg config.Config) *Jobs {
	if locker == nil {
		locker = NewLocalJobLocker()
	}
	return &Jobs{
		repo:      repo,
		publisher: publisher,
		locker:    locker,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		loc:       cfg.Location(),
		now:       time.Now,
	}
}

// Run executes the named job under its lock and returns the batch summary.
func (j *Jobs) Run(ctx context.Context, job string) (BatchResult, error) {
	var fn func(context.Context) (BatchResult, error)
	switch job {
	case JobRenewals:
		fn = j.AdvanceRenewalDates
	case JobReminders:
		fn = j.SendRenewalReminders
	case JobCancelFollowUps:
		fn = j.SendCancellationFollowUps
	default:
		return BatchResult{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	release, err := j.locker.Acquire(ctx, job)
	if err != nil {
		return BatchResult{Job: job}, err
	}
	defer release()

	res, err := fn(ctx)
	j.metrics.observeRun(res, err)
	if err != nil {
		j.logger.Error("job failed", "job", job, "error", err)
		return res, err
	}
	j.logger.Info("job finished",
		"job", job,
		"processed", res.Processed,
		"updated", res.Updated,
		"notified", res.Notified,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
		"duration", res.Duration,
	)
	return res, nil
}

// runFunc adapts Run for the cron scheduler.
func (j *Jobs) runFunc(job string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.config.JobLockTTL())
		defer cancel()
		if _, err := j.Run(ctx, job); errors.Is(err, ErrJobRunning) {
			j.logger.Warn("skipping scheduled run; previous run still in progress", "job", job)
		}
	}
}

func (j *Jobs) concurrency() int {
	if j.config.BatchConcurrency < 1 {
		return 1
	}
	return j.config.BatchConcurrency
}

// forEach runs fn for every item with bounded concurrency. It only fails when
// ctx is cancelled; per-item failures are recorded by fn itself.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T)) error {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, item := range items {
		item := item // per-iteration copy; go.mod targets go1.21 (pre-1.22 loopvar semantics)
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(ctx, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// AdvanceRenewalDates rolls every lapsed active subscription forward to its
// next future renewal date and starts a fresh reminder period.
func (j *Jobs) AdvanceRenewalDates(ctx context.Context) (BatchResult, error) {
	b := &batch{res: BatchResult{Job: JobRenewals, StartedAt: j.now()}}
	now := b.res.StartedAt

	// Owners can be up to two calendar days ahead of the default zone.
	through := renewal.Today(now, j.loc).AddDate(0, 0, 2)
	candidates, err := j.repo.ListStaleActiveSubscriptions(ctx, renewal.FormatLocalDate(through))
	if err != nil {
		b.res.Duration = since(b.res.StartedAt, j.now)
		return b.res, fmt.Errorf("list stale subscriptions: %w", err)
	}
	if len(candidates) == 0 {
		j.logger.Info("no subscriptions due for renewal rollover")
	}

	err = forEach(ctx, j.concurrency(), candidates, func(ctx context.Context, c domain.ReminderCandidate) {
		sub := c.Subscription
		loc := j.locationFor(c.Preferences)
		updated, err := j.rollover(ctx, &sub, renewal.Today(now, loc), loc)
		switch {
		case err != nil:
			b.count(1, 0, 0, 1)
			b.fail(sub.ID, stageOf(err), err)
		case updated:
			b.count(1, 1, 0, 0)
		default:
			b.count(1, 0, 0, 1)
		}
	})

	b.res.Duration = since(b.res.StartedAt, j.now)
	return b.res, err
}

// rollover advances sub in memory and persists the new period. It reports
// whether the stored row changed.
func (j *Jobs) rollover(ctx context.Context, sub *domain.Subscription, today time.Time, loc *time.Location) (bool, error) {
	previous := sub.RenewalDate
	changed, err := reminder.Refresh(sub, today, loc)
	if err != nil {
		j.logger.Warn("cannot advance renewal date", "subscription_id", sub.ID, "renewal_date", previous, "error", err)
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := j.repo.UpdateRenewalPeriod(ctx, sub.ID, previous, sub.RenewalDate); err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			// Cancelled or rolled over by a concurrent writer.
			return false, nil
		}
		j.logger.Error("failed to persist renewal rollover", "subscription_id", sub.ID, "error", err)
		return false, &stageError{stage: "persist_rollover", err: err}
	}
	j.logger.Info("renewal date advanced", "subscription_id", sub.ID, "from", previous, "to", sub.RenewalDate)
	return true, nil
}

// SendRenewalReminders evaluates every active subscription against its
// owner's preset and fires at most one reminder per subscription.
func (j *Jobs) SendRenewalReminders(ctx context.Context) (BatchResult, error) {
	b := &batch{res: BatchResult{Job: JobReminders, StartedAt: j.now()}}
	now := b.res.StartedAt

	candidates, err := j.repo.ListReminderCandidates(ctx)
	if err != nil {
		b.res.Duration = since(b.res.StartedAt, j.now)
		return b.res, fmt.Errorf("list reminder candidates: %w", err)
	}

	err = forEach(ctx, j.concurrency(), candidates, func(ctx context.Context, c domain.ReminderCandidate) {
		updated, notified, err := j.remind(ctx, c, now)
		u, n := boolInt(updated), boolInt(notified)
		if err != nil {
			b.count(1, u, 0, 1)
			b.fail(c.Subscription.ID, stageOf(err), err)
			return
		}
		b.count(1, u, n, 1-n)
	})

	b.res.Duration = since(b.res.StartedAt, j.now)
	return b.res, err
}

// remind rolls c over first when its date has lapsed, so the day count is
// always taken against the current period, then fires the due reminder.
// Days are counted in the owner's calendar.
func (j *Jobs) remind(ctx context.Context, c domain.ReminderCandidate, now time.Time) (updated, notified bool, err error) {
	sub := c.Subscription
	if sub.IsCancelled() {
		return false, false, nil
	}

	loc := j.locationFor(c.Preferences)
	today := renewal.Today(now, loc)

	updated, err = j.rollover(ctx, &sub, today, loc)
	if err != nil {
		return false, false, err
	}

	due, err := renewal.ParseLocalDate(sub.RenewalDate, loc)
	if err != nil {
		return updated, false, err
	}
	days := renewal.DaysUntil(due, today)

	r, ok := reminder.Evaluate(days, sub.Reminders, c.Preferences.Preset)
	if !ok {
		return updated, false, nil
	}

	n := reminder.Apply(&sub, r)
	n.ID = uuid.NewString()
	n.CreatedAt = j.now().UTC()

	fired, err := j.repo.RecordReminder(ctx, sub.RenewalDate, r.Field, n)
	if err != nil {
		j.logger.Error("failed to record reminder", "subscription_id", sub.ID, "reminder", r.Kind, "error", err)
		return updated, false, &stageError{stage: "record_reminder", err: err}
	}
	if !fired {
		j.logger.Info("reminder already recorded", "subscription_id", sub.ID, "reminder", r.Kind)
		return updated, false, nil
	}

	j.logger.Info("renewal reminder sent", "subscription_id", sub.ID, "user_id", sub.UserID, "reminder", r.Kind, "days_until", days)
	j.deliver(ctx, "reminder", n, c.Preferences)
	return updated, true, nil
}

// SendCancellationFollowUps asks users whether cancellations they started
// more than the configured delay ago actually went through.
func (j *Jobs) SendCancellationFollowUps(ctx context.Context) (BatchResult, error) {
	b := &batch{res: BatchResult{Job: JobCancelFollowUps, StartedAt: j.now()}}
	now := b.res.StartedAt
	after := j.config.CancelFollowUpAfter()
	if after <= 0 {
		after = cancellation.DefaultFollowUpAfter
	}

	candidates, err := j.repo.ListCancellationFollowUpCandidates(ctx, now.Add(-after))
	if err != nil {
		b.res.Duration = since(b.res.StartedAt, j.now)
		return b.res, fmt.Errorf("list cancellation follow-up candidates: %w", err)
	}

	err = forEach(ctx, j.concurrency(), candidates, func(ctx context.Context, c domain.CancellationCandidate) {
		sub := c.Subscription
		if !cancellation.FollowUpDue(sub, now, after) {
			b.count(1, 0, 0, 1)
			return
		}

		n := cancellation.FollowUpNotification(sub)
		n.ID = uuid.NewString()
		n.CreatedAt = now.UTC()

		fired, err := j.repo.RecordCancelFollowUp(ctx, *sub.CancelAttemptDate, n)
		if err != nil {
			j.logger.Error("failed to record cancellation follow-up", "subscription_id", sub.ID, "error", err)
			b.count(1, 0, 0, 1)
			b.fail(sub.ID, "record_followup", err)
			return
		}
		if !fired {
			b.count(1, 0, 0, 1)
			return
		}

		j.logger.Info("cancellation follow-up sent", "subscription_id", sub.ID, "user_id", sub.UserID)
		j.deliver(ctx, "cancel_followup", n, c.Preferences)
		b.count(1, 0, 1, 0)
	})

	b.res.Duration = since(b.res.StartedAt, j.now)
	return b.res, err
}

// deliver publishes push and email requests for n. Delivery is best effort:
// the in-app notification is already committed and is never rolled back.
func (j *Jobs) deliver(ctx context.Context, topic string, n domain.NotificationRequest, prefs domain.UserPreferences) {
	if j.publisher == nil {
		return
	}

	base := domain.DeliveryRequest{
		Kind:           n.Kind,
		NotificationID: n.ID,
		UserID:         n.UserID,
		SubscriptionID: n.SubscriptionID,
		Title:          n.Title,
		Message:        n.Message,
		RequestedAt:    j.now().UTC(),
	}

	var requests []domain.DeliveryRequest
	if prefs.PushEnabled && prefs.FCMToken != "" {
		push := base
		push.Channel = domain.ChannelPush
		push.Token = prefs.FCMToken
		requests = append(requests, push)
	}
	if prefs.EmailEnabled && prefs.Email != "" {
		email := base
		email.Channel = domain.ChannelEmail
		email.Email = prefs.Email
		requests = append(requests, email)
	}

	for _, req := range requests {
		routingKey := topic + "." + string(req.Channel)
		if err := j.publisher.Publish(ctx, j.config.NotificationExchange, routingKey, req); err != nil {
			j.logger.Warn("failed to publish delivery request", "subscription_id", n.SubscriptionID, "channel", req.Channel, "error", err)
			j.metrics.observeDelivery(string(req.Channel), "failed")
			continue
		}
		j.metrics.observeDelivery(string(req.Channel), "published")
	}
}

// locationFor returns the calendar prefs' owner lives in, falling back to the
// service default for empty or unknown zone names.
func (j *Jobs) locationFor(prefs domain.UserPreferences) *time.Location {
	name := prefs.Timezone
	if name == "" {
		return j.loc
	}
	if cached, ok := j.zones.Load(name); ok {
		if loc, _ := cached.(*time.Location); loc != nil {
			return loc
		}
		return j.loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		j.logger.Warn("unknown user timezone; using default", "user_id", prefs.UserID, "timezone", name)
		j.zones.Store(name, (*time.Location)(nil))
		return j.loc
	}
	j.zones.Store(name, loc)
	return loc
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageOf(err error) string {
	var se *stageError
	switch {
	case errors.As(err, &se):
		return se.stage
	case errors.Is(err, renewal.ErrMalformedDate):
		return "malformed_date"
	case errors.Is(err, renewal.ErrAdvanceLimit):
		return "advance_limit"
	case errors.Is(err, renewal.ErrUnknownCycle):
		return "unknown_cycle"
	}
	return "unknown"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
