/**
 * @description
 * This file implements the data access layer for the renewal service.
 * It contains the SQL for reading subscription batches and for the atomic
 * writes the jobs depend on: renewal rollover, reminder firing and the
 * cancellation follow-up bookkeeping.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/subsnooze/renewal-service/internal/domain"
)

// ErrSubscriptionNotFound is returned when a write targets a missing or
// no-longer-eligible subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// DBTX is the subset of *pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository handles database operations for the renewal jobs.
type Repository struct {
	db DBTX
}

// NewRepository creates a new repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `
    s.id, s.user_id, s.name, s.price, s.currency, s.billing_cycle,
    s.renewal_date::text, s.status,
    s.reminder_14_day_sent, s.reminder_7_day_sent, s.reminder_3_day_sent, s.reminder_1_day_sent,
    s.reminders_sent, s.cancel_attempt_date, s.cancel_verified, s.cancelled_date`

const preferenceColumns = `
    COALESCE(p.reminder_preset, ''), COALESCE(p.push_enabled, FALSE), COALESCE(p.email_enabled, FALSE),
    COALESCE(p.email, ''), COALESCE(p.fcm_token, ''), COALESCE(p.timezone, '')`

func subscriptionDest(sub *domain.Subscription, cycle, status *string) []any {
	return []any{
		&sub.ID, &sub.UserID, &sub.Name, &sub.Price, &sub.Currency, cycle,
		&sub.RenewalDate, status,
		&sub.Reminders.Sent14, &sub.Reminders.Sent7, &sub.Reminders.Sent3, &sub.Reminders.Sent1,
		&sub.RemindersSent, &sub.CancelAttemptDate, &sub.CancelVerified, &sub.CancelledDate,
	}
}

func scanCandidate(rows pgx.Rows) (domain.Subscription, domain.UserPreferences, error) {
	var (
		sub    domain.Subscription
		prefs  domain.UserPreferences
		cycle  string
		status string
		preset string
	)
	dest := subscriptionDest(&sub, &cycle, &status)
	dest = append(dest, &preset, &prefs.PushEnabled, &prefs.EmailEnabled, &prefs.Email, &prefs.FCMToken, &prefs.Timezone)
	if err := rows.Scan(dest...); err != nil {
		return sub, prefs, err
	}
	sub.BillingCycle = domain.BillingCycle(cycle)
	sub.Status = domain.SubscriptionStatus(status)
	prefs.UserID = sub.UserID
	prefs.Preset = domain.ParsePreset(preset)
	return sub, prefs, nil
}

// GetSubscription loads a single subscription by id.
func (r *Repository) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	var (
		sub    domain.Subscription
		cycle  string
		status string
	)
	query := `SELECT` + subscriptionColumns + `
        FROM subscriptions s
        WHERE s.id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(subscriptionDest(&sub, &cycle, &status)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.BillingCycle = domain.BillingCycle(cycle)
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}

// ListStaleActiveSubscriptions fetches active subscriptions whose renewal date
// is on or before through (a "YYYY-MM-DD" date), with their owner's
// preferences. Callers decide staleness per owner calendar.
func (r *Repository) ListStaleActiveSubscriptions(ctx context.Context, through string) ([]domain.ReminderCandidate, error) {
	query := `SELECT` + subscriptionColumns + `,` + preferenceColumns + `
        FROM subscriptions s
        LEFT JOIN user_preferences p ON p.user_id = s.user_id
        WHERE s.status = 'active'
          AND s.renewal_date <= $1::date
        ORDER BY s.renewal_date, s.id`
	rows, err := r.db.Query(ctx, query, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.ReminderCandidate
	for rows.Next() {
		sub, prefs, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.ReminderCandidate{Subscription: sub, Preferences: prefs})
	}
	return candidates, rows.Err()
}

// ListReminderCandidates fetches every active subscription with its owner's
// reminder preferences. Users without a preferences row get the defaults.
func (r *Repository) ListReminderCandidates(ctx context.Context) ([]domain.ReminderCandidate, error) {
	query := `SELECT` + subscriptionColumns + `,` + preferenceColumns + `
        FROM subscriptions s
        LEFT JOIN user_preferences p ON p.user_id = s.user_id
        WHERE s.status = 'active'
        ORDER BY s.renewal_date, s.id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.ReminderCandidate
	for rows.Next() {
		sub, prefs, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.ReminderCandidate{Subscription: sub, Preferences: prefs})
	}
	return candidates, rows.Err()
}

// ListCancellationFollowUpCandidates fetches active subscriptions with an
// unverified cancellation attempt made before olderThan that has not been
// followed up yet.
func (r *Repository) ListCancellationFollowUpCandidates(ctx context.Context, olderThan time.Time) ([]domain.CancellationCandidate, error) {
	query := `SELECT` + subscriptionColumns + `,` + preferenceColumns + `
        FROM subscriptions s
        LEFT JOIN user_preferences p ON p.user_id = s.user_id
        WHERE s.status = 'active'
          AND s.cancel_attempt_date IS NOT NULL
          AND s.cancel_attempt_date < $1
          AND (s.cancel_verified IS NULL OR s.cancel_verified = FALSE)
          AND (s.cancel_followup_sent_at IS NULL OR s.cancel_followup_sent_at < s.cancel_attempt_date)
        ORDER BY s.cancel_attempt_date, s.id`
	rows, err := r.db.Query(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.CancellationCandidate
	for rows.Next() {
		sub, prefs, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, domain.CancellationCandidate{Subscription: sub, Preferences: prefs})
	}
	return candidates, rows.Err()
}

// UpdateRenewalPeriod moves a subscription to its new renewal date and clears
// every reminder flag and the counter in one statement, so no reader observes
// the new date with the previous period's flags.
func (r *Repository) UpdateRenewalPeriod(ctx context.Context, id, previousDate, newDate string) error {
	query := `
        UPDATE subscriptions
        SET renewal_date = $3::date,
            reminder_14_day_sent = FALSE,
            reminder_7_day_sent = FALSE,
            reminder_3_day_sent = FALSE,
            reminder_1_day_sent = FALSE,
            reminders_sent = 0,
            updated_at = NOW()
        WHERE id = $1
          AND renewal_date = $2::date
          AND status = 'active'
    `
	tag, err := r.db.Exec(ctx, query, id, previousDate, newDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RecordReminder marks flag as sent for the period ending on renewalDate,
// bumps the counter and writes the in-app notification, all in one
// transaction. It reports false when another writer already set the flag, the
// period moved on or the period's notification already exists, in which case
// nothing is written.
func (r *Repository) RecordReminder(ctx context.Context, renewalDate string, flag domain.FlagName, n domain.NotificationRequest) (bool, error) {
	if !flag.Valid() {
		return false, fmt.Errorf("unknown reminder flag %q", flag)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// flag is one of four fixed column names, checked above.
	query := fmt.Sprintf(`
        UPDATE subscriptions
        SET %[1]s = TRUE,
            reminders_sent = reminders_sent + 1,
            updated_at = NOW()
        WHERE id = $1
          AND renewal_date = $2::date
          AND status = 'active'
          AND %[1]s = FALSE
    `, flag)
	tag, err := tx.Exec(ctx, query, n.SubscriptionID, renewalDate)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	inserted, err := insertNotification(ctx, tx, n)
	if err != nil {
		return false, err
	}
	if !inserted {
		// The notification for this period already exists; keep the flag
		// and counter untouched.
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// RecordCancelFollowUp stamps the follow-up for the attempt made at attemptAt
// and writes its notification in one transaction. It reports false when the
// attempt was verified, replaced or already followed up, or when its
// notification already exists.
func (r *Repository) RecordCancelFollowUp(ctx context.Context, attemptAt time.Time, n domain.NotificationRequest) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE subscriptions
        SET cancel_followup_sent_at = NOW(),
            updated_at = NOW()
        WHERE id = $1
          AND status = 'active'
          AND cancel_attempt_date = $2
          AND (cancel_verified IS NULL OR cancel_verified = FALSE)
          AND (cancel_followup_sent_at IS NULL OR cancel_followup_sent_at < cancel_attempt_date)
    `
	tag, err := tx.Exec(ctx, query, n.SubscriptionID, attemptAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	inserted, err := insertNotification(ctx, tx, n)
	if err != nil {
		return false, err
	}
	if !inserted {
		// The notification for this period already exists; keep the flag
		// and counter untouched.
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}
