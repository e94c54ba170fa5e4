package domain

import "time"

// NotificationType is the severity shown in the in-app inbox.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
)

// NotificationKind tells consumers what produced a notification.
type NotificationKind string

const (
	KindRenewalReminder NotificationKind = "renewal_reminder"
	KindCancelFollowUp  NotificationKind = "cancel_followup"
)

// NotificationRequest is the record handed to the notification sink. The sink
// persists it as an unread in-app notification and may fan it out to push and
// email transports.
type NotificationRequest struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	SubscriptionID string           `json:"subscription_id"`
	Kind           NotificationKind `json:"kind"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Type           NotificationType `json:"type"`
	Read           bool             `json:"read"`
	DedupeKey      string           `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}

// DeliveryChannel is an out-of-app transport.
type DeliveryChannel string

const (
	ChannelPush  DeliveryChannel = "push"
	ChannelEmail DeliveryChannel = "email"
)

// DeliveryRequest is the event published for external push/email workers.
type DeliveryRequest struct {
	Channel        DeliveryChannel  `json:"channel"`
	Kind           NotificationKind `json:"kind"`
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	SubscriptionID string           `json:"subscription_id"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Token          string           `json:"token,omitempty"`
	Email          string           `json:"email,omitempty"`
	RequestedAt    time.Time        `json:"requested_at"`
}

// CancellationCandidate is a subscription with an unverified cancellation
// attempt, joined with the owner's delivery preferences.
type CancellationCandidate struct {
	Subscription Subscription
	Preferences  UserPreferences
}
