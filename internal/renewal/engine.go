/**
 * @description
 * Renewal date arithmetic shared by the batch jobs and the HTTP preview.
 *
 * Every date here is a calendar date in the user's local timezone. Values are
 * carried as time.Time at local midnight, but comparisons and day counts are
 * done on year/month/day components so that DST transitions and time-of-day
 * never change the result.
 */
package renewal

import (
	"fmt"
	"time"

	"github.com/subsnooze/renewal-service/internal/domain"
)

const (
	// DateLayout is the stored form of renewal dates.
	DateLayout = "2006-01-02"

	// MaxAdvanceIterations bounds AdvanceToFuture.
	MaxAdvanceIterations = 10000

	// RenewingSoonThreshold is the days-until value at or below which an
	// active subscription is flagged as renewing soon.
	RenewingSoonThreshold = 7
)

// ParseLocalDate parses a "YYYY-MM-DD" string as midnight in loc.
// A nil loc means time.Local.
func ParseLocalDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(s) != len(DateLayout) || s[4] != '-' || s[7] != '-' {
		return time.Time{}, &MalformedDateError{Value: s}
	}

	year, okY := digits(s[0:4])
	month, okM := digits(s[5:7])
	day, okD := digits(s[8:10])
	if !okY || !okM || !okD || year < 1 || month < 1 || month > 12 || day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, &MalformedDateError{Value: s}
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), nil
}

// FormatLocalDate renders t's own calendar date as "YYYY-MM-DD".
func FormatLocalDate(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

// Midnight returns the start of t's calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Today returns the current calendar day in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return Midnight(now.In(loc))
}

// DaysUntil returns the signed number of calendar days from today to renewal.
// Positive means renewal is in the future, zero means today.
func DaysUntil(renewal, today time.Time) int {
	return dayNumber(renewal) - dayNumber(today)
}

// AdvanceToFuture steps renewal forward one billing period at a time until it
// falls strictly after today's calendar date. A renewal that is already in the
// future is returned unchanged.
func AdvanceToFuture(renewal time.Time, cycle domain.BillingCycle, today time.Time) (time.Time, error) {
	if !cycle.Valid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownCycle, cycle)
	}

	current := renewal
	for i := 0; DaysUntil(current, today) <= 0; i++ {
		if i >= MaxAdvanceIterations {
			return time.Time{}, &AdvanceLimitError{
				Cycle:      cycle,
				From:       FormatLocalDate(renewal),
				Iterations: i,
			}
		}
		current = step(current, cycle)
	}
	return current, nil
}

// ClassifyUrgency derives the display status of a subscription.
func ClassifyUrgency(daysUntil int, status domain.SubscriptionStatus) domain.Urgency {
	if status == domain.StatusCancelled {
		return domain.UrgencyCancelled
	}
	if daysUntil <= RenewingSoonThreshold {
		return domain.UrgencyRenewingSoon
	}
	return domain.UrgencyGood
}

func step(t time.Time, cycle domain.BillingCycle) time.Time {
	switch cycle {
	case domain.CycleWeekly:
		return t.AddDate(0, 0, 7)
	case domain.CycleMonthly:
		return t.AddDate(0, 1, 0)
	case domain.CycleYearly:
		return t.AddDate(1, 0, 0)
	}
	return t
}

// dayNumber maps a calendar date onto a contiguous day index. It goes through
// UTC so that the local offset of either argument cannot leak into the count.
func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
