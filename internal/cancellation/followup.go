// Package cancellation tracks "go cancel" attempts and their confirmation.
//
// A subscription enters the flow when the user clicks through to cancel
// (CancelAttemptDate set, CancelVerified false). A follow-up asks whether the
// cancellation went through; confirming it cancels the subscription and counts
// its price towards the user's savings.
package cancellation

import (
	"fmt"
	"time"

	"github.com/subsnooze/renewal-service/internal/domain"
)

// DefaultFollowUpAfter is how long after an attempt the follow-up is sent.
const DefaultFollowUpAfter = 48 * time.Hour

// FollowUpDue reports whether sub qualifies for a cancellation follow-up at now.
// Whether one was already sent is decided by the store, not here.
func FollowUpDue(sub domain.Subscription, now time.Time, after time.Duration) bool {
	if sub.CancelAttemptDate == nil {
		return false
	}
	if sub.CancelVerified != nil && *sub.CancelVerified {
		return false
	}
	return now.Sub(*sub.CancelAttemptDate) > after
}

// FollowUpNotification builds the follow-up for sub. The dedupe key is tied to
// the attempt timestamp, so a new attempt can be followed up again.
func FollowUpNotification(sub domain.Subscription) domain.NotificationRequest {
	attempt := ""
	if sub.CancelAttemptDate != nil {
		attempt = sub.CancelAttemptDate.UTC().Format(time.RFC3339)
	}
	return domain.NotificationRequest{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Kind:           domain.KindCancelFollowUp,
		Title:          fmt.Sprintf("Did you cancel %s?", sub.Name),
		Message:        fmt.Sprintf("You started cancelling %s. Let us know if it worked so we can stop tracking it and add it to your savings.", sub.Name),
		Type:           domain.NotificationInfo,
		Read:           false,
		DedupeKey:      fmt.Sprintf("cancel_followup:%s:%s", sub.ID, attempt),
	}
}

// MarkAttempt records that the user went to cancel sub.
func MarkAttempt(sub *domain.Subscription, now time.Time) {
	attempted := false
	sub.CancelAttemptDate = &now
	sub.CancelVerified = &attempted
}

// Confirm resolves a pending attempt. A confirmed cancellation freezes the
// subscription and returns the amount saved; a denied one keeps it active and
// clears the attempt so the user can try again.
func Confirm(sub *domain.Subscription, confirmed bool, now time.Time) (saved float64) {
	if !confirmed {
		sub.CancelAttemptDate = nil
		sub.CancelVerified = nil
		return 0
	}

	verified := true
	sub.CancelVerified = &verified
	sub.Status = domain.StatusCancelled
	sub.CancelledDate = &now
	return sub.Price
}
