/**
 * @description
 * Core domain models for the renewal service: the subscription row as the
 * scheduler sees it, its billing cycle and status enums, and the reminder
 * flag set that guards duplicate sends within one billing period.
 */
package domain

import "time"

// BillingCycle is the recurrence period of a subscription charge.
type BillingCycle string

const (
	CycleWeekly  BillingCycle = "weekly"
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether c is one of the known cycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case CycleWeekly, CycleMonthly, CycleYearly:
		return true
	}
	return false
}

// SubscriptionStatus drives whether the scheduler touches a subscription at all.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Urgency is the derived display classification of a subscription.
type Urgency string

const (
	UrgencyGood         Urgency = "good"
	UrgencyRenewingSoon Urgency = "renewing_soon"
	UrgencyCancelled    Urgency = "cancelled"
)

// Subscription represents a user's tracked subscription row.
// RenewalDate is kept in its stored "YYYY-MM-DD" form; it is parsed in the
// user's local calendar by the renewal engine, never as a UTC instant.
type Subscription struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	Name              string             `json:"name"`
	Price             float64            `json:"price"`
	Currency          string             `json:"currency"`
	BillingCycle      BillingCycle       `json:"billing_cycle"`
	RenewalDate       string             `json:"renewal_date"`
	Status            SubscriptionStatus `json:"status"`
	Reminders         ReminderFlags      `json:"reminders"`
	RemindersSent     int                `json:"reminders_sent"`
	CancelAttemptDate *time.Time         `json:"cancel_attempt_date,omitempty"`
	CancelVerified    *bool              `json:"cancel_verified,omitempty"`
	CancelledDate     *time.Time         `json:"cancelled_date,omitempty"`
}

// IsCancelled reports whether the subscription is frozen in place.
func (s Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// UserPreferences are the per-user notification settings joined onto a
// subscription when evaluating reminders.
type UserPreferences struct {
	UserID       string         `json:"user_id"`
	Preset       ReminderPreset `json:"reminder_preset"`
	PushEnabled  bool           `json:"push_enabled"`
	EmailEnabled bool           `json:"email_enabled"`
	Email        string         `json:"email,omitempty"`
	FCMToken     string         `json:"-"`
	// Timezone is an IANA zone name. Empty means the service default.
	Timezone string `json:"timezone,omitempty"`
}

// ReminderCandidate is a subscription together with its owner's preferences.
type ReminderCandidate struct {
	Subscription Subscription
	Preferences  UserPreferences
}
