package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/subsnooze/renewal-service/internal/cancellation"
	"github.com/subsnooze/renewal-service/internal/domain"
)

var (
	// ErrAlreadyCancelled is returned for operations on a cancelled subscription.
	ErrAlreadyCancelled = errors.New("subscription already cancelled")
	// ErrNoCancelAttempt is returned when verifying without a pending attempt.
	ErrNoCancelAttempt = errors.New("no pending cancellation attempt")
)

// Verification is the outcome of answering a cancellation follow-up.
type Verification struct {
	Subscription domain.Subscription `json:"subscription"`
	Confirmed    bool                `json:"confirmed"`
	Saved        float64             `json:"saved"`
}

// Cancellations records cancel attempts and their verification.
type Cancellations struct {
	repo    Repository
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewCancellations(repo Repository, metrics *Metrics, logger *slog.Logger) *Cancellations {
	return &Cancellations{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// RecordAttempt notes that the user went to cancel the subscription.
func (c *Cancellations) RecordAttempt(ctx context.Context, id string) (domain.Subscription, error) {
	sub, err := c.repo.GetSubscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if sub.IsCancelled() {
		return sub, ErrAlreadyCancelled
	}

	cancellation.MarkAttempt(&sub, c.now().UTC())
	if err := c.repo.RecordCancelAttempt(ctx, sub.ID, *sub.CancelAttemptDate); err != nil {
		return domain.Subscription{}, err
	}

	c.metrics.observeCancellation("attempt")
	c.logger.Info("cancellation attempt recorded", "subscription_id", sub.ID, "user_id", sub.UserID)
	return sub, nil
}

// Verify resolves the pending attempt with the user's answer.
func (c *Cancellations) Verify(ctx context.Context, id string, confirmed bool) (Verification, error) {
	sub, err := c.repo.GetSubscription(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	if sub.IsCancelled() {
		return Verification{}, ErrAlreadyCancelled
	}
	if sub.CancelAttemptDate == nil {
		return Verification{}, ErrNoCancelAttempt
	}

	saved := cancellation.Confirm(&sub, confirmed, c.now().UTC())
	if err := c.repo.SaveCancellationOutcome(ctx, sub, saved); err != nil {
		return Verification{}, err
	}

	event := "denied"
	if confirmed {
		event = "confirmed"
	}
	c.metrics.observeCancellation(event)
	c.logger.Info("cancellation verified", "subscription_id", sub.ID, "user_id", sub.UserID, "confirmed", confirmed, "saved", saved)
	return Verification{Subscription: sub, Confirmed: confirmed, Saved: saved}, nil
}
