/**
 * @description
 * Reminder threshold evaluation for renewal reminders.
 *
 * Once per subscription per run, Evaluate decides whether the reminder for
 * today's exact days-until value should fire. Apply records the send on the
 * subscription and builds the notification. Rollover resets the per-period
 * state when the renewal date moves into a new billing period.
 */
package reminder

import (
	"fmt"
	"time"

	"github.com/subsnooze/renewal-service/internal/domain"
	"github.com/subsnooze/renewal-service/internal/renewal"
)

// Reminder identifies the threshold that fired.
type Reminder struct {
	Kind  string          `json:"kind"`
	Field domain.FlagName `json:"field"`
	Days  int             `json:"days"`
}

type threshold struct {
	days    int
	field   domain.FlagName
	presets []domain.ReminderPreset
}

// Most urgent first.
var thresholds = []threshold{
	{days: 1, field: domain.FlagSent1, presets: []domain.ReminderPreset{domain.PresetAggressive}},
	{days: 3, field: domain.FlagSent3, presets: []domain.ReminderPreset{domain.PresetAggressive, domain.PresetRelaxed, domain.PresetMinimal}},
	{days: 7, field: domain.FlagSent7, presets: []domain.ReminderPreset{domain.PresetAggressive}},
	{days: 14, field: domain.FlagSent14, presets: []domain.ReminderPreset{domain.PresetRelaxed}},
}

func (t threshold) permits(p domain.ReminderPreset) bool {
	for _, allowed := range t.presets {
		if allowed == p {
			return true
		}
	}
	return false
}

// Thresholds lists the day offsets a preset sends reminders on, most urgent first.
func Thresholds(p domain.ReminderPreset) []int {
	var out []int
	for _, t := range thresholds {
		if t.permits(p) {
			out = append(out, t.days)
		}
	}
	return out
}

// Evaluate returns the reminder that fires for daysUntil, if any. Only an
// exact match fires: a threshold skipped by a missed run is never caught up.
func Evaluate(daysUntil int, flags domain.ReminderFlags, preset domain.ReminderPreset) (Reminder, bool) {
	for _, t := range thresholds {
		if daysUntil != t.days || flags.Get(t.field) || !t.permits(preset) {
			continue
		}
		return Reminder{Kind: fmt.Sprintf("%d-day", t.days), Field: t.field, Days: t.days}, true
	}
	return Reminder{}, false
}

// Apply marks r as sent on sub, bumps the display counter and returns the
// notification to hand to the sink.
func Apply(sub *domain.Subscription, r Reminder) domain.NotificationRequest {
	sub.Reminders.Set(r.Field)
	sub.RemindersSent++

	notifType := domain.NotificationInfo
	if r.Days <= 3 {
		notifType = domain.NotificationWarning
	}

	return domain.NotificationRequest{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Kind:           domain.KindRenewalReminder,
		Title:          reminderTitle(sub.Name, r.Days),
		Message:        reminderMessage(sub, r.Days),
		Type:           notifType,
		Read:           false,
		DedupeKey:      fmt.Sprintf("reminder:%s:%s:%s", sub.ID, sub.RenewalDate, r.Field),
	}
}

// Rollover starts a new billing period on sub. The caller must only invoke it
// when the renewal date actually changed.
func Rollover(sub *domain.Subscription, newDate time.Time) {
	sub.RenewalDate = renewal.FormatLocalDate(newDate)
	sub.Reminders.Reset()
	sub.RemindersSent = 0
}

// Refresh advances a stale renewal date and resets the period state in one
// step. It reports whether a rollover happened. Cancelled subscriptions are
// never touched.
func Refresh(sub *domain.Subscription, today time.Time, loc *time.Location) (bool, error) {
	if sub.IsCancelled() {
		return false, nil
	}

	current, err := renewal.ParseLocalDate(sub.RenewalDate, loc)
	if err != nil {
		return false, err
	}
	next, err := renewal.AdvanceToFuture(current, sub.BillingCycle, today)
	if err != nil {
		return false, err
	}
	if next.Equal(current) {
		return false, nil
	}

	Rollover(sub, next)
	return true, nil
}

// StateOf derives where a subscription is in its per-period reminder
// lifecycle. A period is closed once every threshold of the preset was sent.
func StateOf(flags domain.ReminderFlags, preset domain.ReminderPreset) domain.ReminderState {
	if flags.Count() == 0 {
		return domain.StateNoReminderSent
	}
	for _, t := range thresholds {
		if t.permits(preset) && !flags.Get(t.field) {
			return domain.StatePartial
		}
	}
	return domain.StatePeriodClosed
}

func reminderTitle(name string, days int) string {
	if days == 1 {
		return fmt.Sprintf("%s renews tomorrow", name)
	}
	return fmt.Sprintf("%s renews in %d days", name, days)
}

func reminderMessage(sub *domain.Subscription, days int) string {
	when := fmt.Sprintf("in %d days", days)
	if days == 1 {
		when = "tomorrow"
	}
	return fmt.Sprintf("Your %s subscription renews %s for %s. Cancel before then if you no longer use it.", sub.Name, when, FormatPrice(sub.Price, sub.Currency))
}

// FormatPrice renders an amount for notification copy.
func FormatPrice(amount float64, currency string) string {
	switch currency {
	case "", "USD":
		return fmt.Sprintf("$%.2f", amount)
	case "EUR":
		return fmt.Sprintf("€%.2f", amount)
	case "GBP":
		return fmt.Sprintf("£%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}
