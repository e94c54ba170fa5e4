package renewal

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/subsnooze/renewal-service/internal/domain"
)

func mustParse(t *testing.T, s string, loc *time.Location) time.Time {
	t.Helper()
	d, err := ParseLocalDate(s, loc)
	if err != nil {
		t.Fatalf("ParseLocalDate(%q): %v", s, err)
	}
	return d
}

func TestParseLocalDate_RoundTrip(t *testing.T) {
	locs := []*time.Location{time.UTC}
	for _, name := range []string{"America/Los_Angeles", "Pacific/Kiritimati", "Australia/Lord_Howe"} {
		loc, err := time.LoadLocation(name)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		locs = append(locs, loc)
	}

	inputs := []string{"2026-01-01", "2026-02-28", "2024-02-29", "1999-12-31", "2026-03-08", "2026-11-01", "0001-01-01", "9999-12-31"}
	for _, loc := range locs {
		for _, s := range inputs {
			got := FormatLocalDate(mustParse(t, s, loc))
			if got != s {
				t.Fatalf("round trip in %s: expected %q, got %q", loc, s, got)
			}
		}
	}
}

func TestParseLocalDate_IsLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	d := mustParse(t, "2026-02-06", loc)
	if d.Location() != loc {
		t.Fatalf("expected location %s, got %s", loc, d.Location())
	}
	if d.Hour() != 0 || d.Minute() != 0 || d.Day() != 6 {
		t.Fatalf("expected local midnight on the 6th, got %s", d)
	}
}

func TestParseLocalDate_Malformed(t *testing.T) {
	inputs := []string{"", "2026-1-05", "2026/01/05", "20260105", "2026-13-01", "2026-00-10", "2026-02-30", "2025-02-29", "2026-01-32", "+026-01-01", "2026-0a-01", "0000-01-01", "2026-01-05T00:00:00Z", " 2026-01-05"}
	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			_, err := ParseLocalDate(s, time.UTC)
			if !errors.Is(err, ErrMalformedDate) {
				t.Fatalf("expected ErrMalformedDate, got %v", err)
			}
			var mde *MalformedDateError
			if !errors.As(err, &mde) || mde.Value != s {
				t.Fatalf("expected MalformedDateError carrying %q, got %v", s, err)
			}
		})
	}
}

func TestDaysUntil_SignConvention(t *testing.T) {
	today := mustParse(t, "2026-02-06", time.UTC)
	if got := DaysUntil(today, today); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := DaysUntil(today.AddDate(0, 0, 1), today); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := DaysUntil(today.AddDate(0, 0, -1), today); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestDaysUntil_IgnoresTimeOfDayAndDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name    string
		renewal time.Time
		today   time.Time
		want    int
	}{
		{
			name:    "spring forward week",
			renewal: time.Date(2026, 3, 10, 0, 0, 0, 0, loc),
			today:   time.Date(2026, 3, 7, 23, 59, 0, 0, loc),
			want:    3,
		},
		{
			name:    "fall back week",
			renewal: time.Date(2026, 11, 3, 0, 0, 0, 0, loc),
			today:   time.Date(2026, 10, 31, 0, 30, 0, 0, loc),
			want:    3,
		},
		{
			name:    "late evening today still counts as same day",
			renewal: time.Date(2026, 2, 7, 0, 0, 0, 0, loc),
			today:   time.Date(2026, 2, 6, 23, 59, 59, 0, loc),
			want:    1,
		},
		{
			name:    "across a whole year",
			renewal: time.Date(2027, 2, 6, 0, 0, 0, 0, loc),
			today:   time.Date(2026, 2, 6, 12, 0, 0, 0, loc),
			want:    365,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntil(tt.renewal, tt.today); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAdvanceToFuture_Scenarios(t *testing.T) {
	today := mustParse(t, "2026-02-06", time.UTC)

	tests := []struct {
		name    string
		renewal string
		cycle   domain.BillingCycle
		want    string
	}{
		{name: "weekly stale by five weeks", renewal: "2026-01-05", cycle: domain.CycleWeekly, want: "2026-02-09"},
		{name: "monthly needs two steps", renewal: "2026-01-01", cycle: domain.CycleMonthly, want: "2026-03-01"},
		{name: "yearly", renewal: "2024-02-06", cycle: domain.CycleYearly, want: "2027-02-06"},
		{name: "renewal equal to today advances", renewal: "2026-02-06", cycle: domain.CycleWeekly, want: "2026-02-13"},
		{name: "already future is unchanged", renewal: "2026-02-07", cycle: domain.CycleMonthly, want: "2026-02-07"},
		{name: "far future is unchanged", renewal: "2030-06-15", cycle: domain.CycleYearly, want: "2030-06-15"},
		{name: "month end overflow follows AddDate", renewal: "2026-01-31", cycle: domain.CycleMonthly, want: "2026-03-03"},
		{name: "leap day yearly overflows", renewal: "2024-02-29", cycle: domain.CycleYearly, want: "2026-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdvanceToFuture(mustParse(t, tt.renewal, time.UTC), tt.cycle, today)
			if err != nil {
				t.Fatalf("AdvanceToFuture: %v", err)
			}
			if FormatLocalDate(got) != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, FormatLocalDate(got))
			}
		})
	}
}

func TestAdvanceToFuture_Monotonic(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	today := mustParse(t, "2026-10-25", loc)
	cycles := []domain.BillingCycle{domain.CycleWeekly, domain.CycleMonthly, domain.CycleYearly}

	start := mustParse(t, "2020-01-01", loc)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 13) {
		for _, c := range cycles {
			got, err := AdvanceToFuture(d, c, today)
			if err != nil {
				t.Fatalf("advance %s %s: %v", FormatLocalDate(d), c, err)
			}
			if DaysUntil(got, today) <= 0 {
				t.Fatalf("advance %s %s: expected strictly future, got %s", FormatLocalDate(d), c, FormatLocalDate(got))
			}
			if DaysUntil(got, d) < 0 {
				t.Fatalf("advance %s %s: went backwards to %s", FormatLocalDate(d), c, FormatLocalDate(got))
			}
		}
	}
}

func TestAdvanceToFuture_UnknownCycle(t *testing.T) {
	today := mustParse(t, "2026-02-06", time.UTC)
	_, err := AdvanceToFuture(mustParse(t, "2026-01-01", time.UTC), domain.BillingCycle("fortnightly"), today)
	if !errors.Is(err, ErrUnknownCycle) {
		t.Fatalf("expected ErrUnknownCycle, got %v", err)
	}
}

func TestAdvanceToFuture_IterationCap(t *testing.T) {
	today := mustParse(t, "2026-02-06", time.UTC)
	_, err := AdvanceToFuture(mustParse(t, "1500-01-01", time.UTC), domain.CycleWeekly, today)
	if !errors.Is(err, ErrAdvanceLimit) {
		t.Fatalf("expected ErrAdvanceLimit, got %v", err)
	}
	var ale *AdvanceLimitError
	if !errors.As(err, &ale) || ale.Iterations != MaxAdvanceIterations {
		t.Fatalf("expected AdvanceLimitError after %d iterations, got %v", MaxAdvanceIterations, err)
	}
}

func TestClassifyUrgency(t *testing.T) {
	tests := []struct {
		days   int
		status domain.SubscriptionStatus
		want   domain.Urgency
	}{
		{days: 30, status: domain.StatusActive, want: domain.UrgencyGood},
		{days: 8, status: domain.StatusActive, want: domain.UrgencyGood},
		{days: 7, status: domain.StatusActive, want: domain.UrgencyRenewingSoon},
		{days: 0, status: domain.StatusActive, want: domain.UrgencyRenewingSoon},
		{days: -3, status: domain.StatusActive, want: domain.UrgencyRenewingSoon},
		{days: 1, status: domain.StatusCancelled, want: domain.UrgencyCancelled},
		{days: 90, status: domain.StatusCancelled, want: domain.UrgencyCancelled},
	}
	for _, tt := range tests {
		if got := ClassifyUrgency(tt.days, tt.status); got != tt.want {
			t.Fatalf("ClassifyUrgency(%d, %s): expected %s, got %s", tt.days, tt.status, tt.want, got)
		}
	}
}

func TestSnapshot(t *testing.T) {
	today := mustParse(t, "2026-02-06", time.UTC)

	t.Run("stale active subscription rolls over", func(t *testing.T) {
		out, err := Snapshot("2026-01-05", domain.CycleWeekly, domain.StatusActive, today, time.UTC)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if !out.RolledOver || FormatLocalDate(out.RenewalDate) != "2026-02-09" {
			t.Fatalf("expected rollover to 2026-02-09, got %+v", out)
		}
		if out.DaysUntil != 3 || out.Urgency != domain.UrgencyRenewingSoon {
			t.Fatalf("expected 3 days and renewing_soon, got %+v", out)
		}
	})

	t.Run("cancelled subscription is frozen", func(t *testing.T) {
		out, err := Snapshot("2026-01-05", domain.CycleWeekly, domain.StatusCancelled, today, time.UTC)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if out.RolledOver || FormatLocalDate(out.RenewalDate) != "2026-01-05" {
			t.Fatalf("expected frozen date, got %+v", out)
		}
		if out.DaysUntil != -32 || out.Urgency != domain.UrgencyCancelled {
			t.Fatalf("expected -32 days and cancelled, got %+v", out)
		}
	})

	t.Run("malformed date", func(t *testing.T) {
		_, err := Snapshot("not-a-date", domain.CycleWeekly, domain.StatusActive, today, time.UTC)
		if !errors.Is(err, ErrMalformedDate) {
			t.Fatalf("expected ErrMalformedDate, got %v", err)
		}
	})
}
