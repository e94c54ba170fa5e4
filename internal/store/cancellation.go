package store

import (
	"context"
	"fmt"
	"time"

	"github.com/subsnooze/renewal-service/internal/domain"
)

// RecordCancelAttempt stores a fresh "went to cancel" attempt on an active
// subscription. Any earlier follow-up stamp is cleared so the new attempt is
// followed up on its own.
func (r *Repository) RecordCancelAttempt(ctx context.Context, id string, at time.Time) error {
	query := `
        UPDATE subscriptions
        SET cancel_attempt_date = $2,
            cancel_verified = FALSE,
            cancel_followup_sent_at = NULL,
            updated_at = NOW()
        WHERE id = $1
          AND status = 'active'
    `
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// SaveCancellationOutcome persists the result of a verification. A confirmed
// cancellation freezes the subscription and adds saved to the owner's running
// savings in the same transaction; a denied one clears the pending attempt.
func (r *Repository) SaveCancellationOutcome(ctx context.Context, sub domain.Subscription, saved float64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE subscriptions
        SET status = $2,
            cancel_attempt_date = $3,
            cancel_verified = $4,
            cancelled_date = $5,
            updated_at = NOW()
        WHERE id = $1
          AND status = 'active'
    `
	tag, err := tx.Exec(ctx, query,
		sub.ID, string(sub.Status), sub.CancelAttemptDate, sub.CancelVerified, sub.CancelledDate,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	if sub.IsCancelled() {
		savingsQuery := `
            INSERT INTO user_savings (user_id, total_saved, cancelled_count, updated_at)
            VALUES ($1, $2, 1, NOW())
            ON CONFLICT (user_id) DO UPDATE
            SET total_saved = user_savings.total_saved + EXCLUDED.total_saved,
                cancelled_count = user_savings.cancelled_count + 1,
                updated_at = NOW()
        `
		if _, err := tx.Exec(ctx, savingsQuery, sub.UserID, saved); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
