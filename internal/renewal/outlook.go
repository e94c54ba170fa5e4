package renewal

import (
	"time"

	"github.com/subsnooze/renewal-service/internal/domain"
)

// Outlook is the derived renewal view of a subscription on a given day.
type Outlook struct {
	RenewalDate time.Time
	DaysUntil   int
	Urgency     domain.Urgency
	RolledOver  bool
}

// Snapshot parses a stored renewal date and derives everything a caller needs
// to display or schedule it. Cancelled subscriptions keep their stored date.
// User edits go through here too, so that edited rows are classified exactly
// as the batch jobs would classify them.
func Snapshot(renewalDate string, cycle domain.BillingCycle, status domain.SubscriptionStatus, today time.Time, loc *time.Location) (Outlook, error) {
	date, err := ParseLocalDate(renewalDate, loc)
	if err != nil {
		return Outlook{}, err
	}

	next := date
	if status != domain.StatusCancelled {
		next, err = AdvanceToFuture(date, cycle, today)
		if err != nil {
			return Outlook{}, err
		}
	}

	days := DaysUntil(next, today)
	return Outlook{
		RenewalDate: next,
		DaysUntil:   days,
		Urgency:     ClassifyUrgency(days, status),
		RolledOver:  !next.Equal(date),
	}, nil
}
