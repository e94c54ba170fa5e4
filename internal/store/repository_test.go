package store

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsnooze/renewal-service/internal/domain"
)

var subscriptionRowColumns = []string{
	"id", "user_id", "name", "price", "currency", "billing_cycle",
	"renewal_date", "status",
	"reminder_14_day_sent", "reminder_7_day_sent", "reminder_3_day_sent", "reminder_1_day_sent",
	"reminders_sent", "cancel_attempt_date", "cancel_verified", "cancelled_date",
}

var candidateRowColumns = append(append([]string{}, subscriptionRowColumns...),
	"reminder_preset", "push_enabled", "email_enabled", "email", "fcm_token", "timezone",
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewRepository(pool), pool
}

func TestListStaleActiveSubscriptions(t *testing.T) {
	repo, pool := newMockRepo(t)

	rows := pgxmock.NewRows(candidateRowColumns).
		AddRow("sub-1", "user-1", "Netflix", 15.49, "USD", "monthly",
			"2026-01-20", "active",
			true, true, true, false,
			3, (*time.Time)(nil), (*bool)(nil), (*time.Time)(nil),
			"minimal", false, true, "n@example.com", "", "America/New_York")
	pool.ExpectQuery("LEFT JOIN user_preferences").WithArgs("2026-02-06").WillReturnRows(rows)

	candidates, err := repo.ListStaleActiveSubscriptions(context.Background(), "2026-02-06")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	sub := candidates[0].Subscription
	assert.Equal(t, "America/New_York", candidates[0].Preferences.Timezone)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, domain.CycleMonthly, sub.BillingCycle)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, "2026-01-20", sub.RenewalDate)
	assert.Equal(t, domain.ReminderFlags{Sent14: true, Sent7: true, Sent3: true}, sub.Reminders)
	assert.Equal(t, 3, sub.RemindersSent)
	assert.Nil(t, sub.CancelAttemptDate)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestListReminderCandidates_DefaultsMissingPreferences(t *testing.T) {
	repo, pool := newMockRepo(t)

	rows := pgxmock.NewRows(candidateRowColumns).
		AddRow("sub-1", "user-1", "Spotify", 10.99, "EUR", "monthly",
			"2026-02-09", "active",
			false, false, false, false,
			0, (*time.Time)(nil), (*bool)(nil), (*time.Time)(nil),
			"", false, false, "", "", "").
		AddRow("sub-2", "user-2", "iCloud", 2.99, "USD", "yearly",
			"2026-02-20", "active",
			false, false, false, false,
			0, (*time.Time)(nil), (*bool)(nil), (*time.Time)(nil),
			"relaxed", true, true, "a@example.com", "tok-2", "Europe/Berlin")
	pool.ExpectQuery("LEFT JOIN user_preferences").WillReturnRows(rows)

	candidates, err := repo.ListReminderCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, domain.PresetAggressive, candidates[0].Preferences.Preset)
	assert.Equal(t, "user-1", candidates[0].Preferences.UserID)
	assert.Equal(t, domain.PresetRelaxed, candidates[1].Preferences.Preset)
	assert.True(t, candidates[1].Preferences.PushEnabled)
	assert.Equal(t, "tok-2", candidates[1].Preferences.FCMToken)
	assert.Equal(t, "Europe/Berlin", candidates[1].Preferences.Timezone)
	assert.Empty(t, candidates[0].Preferences.Timezone)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestGetSubscription_NotFound(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectQuery("WHERE s.id").WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns))

	_, err := repo.GetSubscription(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestUpdateRenewalPeriod(t *testing.T) {
	t.Run("resets the period", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectExec("UPDATE subscriptions").
			WithArgs("sub-1", "2026-01-20", "2026-02-20").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateRenewalPeriod(context.Background(), "sub-1", "2026-01-20", "2026-02-20")
		assert.NoError(t, err)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("stale previous date", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectExec("UPDATE subscriptions").
			WithArgs("sub-1", "2026-01-20", "2026-02-20").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateRenewalPeriod(context.Background(), "sub-1", "2026-01-20", "2026-02-20")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func reminderNotification() domain.NotificationRequest {
	return domain.NotificationRequest{
		ID:             "11111111-1111-1111-1111-111111111111",
		UserID:         "user-1",
		SubscriptionID: "sub-1",
		Kind:           domain.KindRenewalReminder,
		Title:          "Netflix renews in 3 days",
		Message:        "Netflix renews for $15.49.",
		Type:           domain.NotificationWarning,
		DedupeKey:      "reminder:sub-1:2026-02-09:reminder_3_day_sent",
	}
}

func TestRecordReminder_FiresOnce(t *testing.T) {
	repo, pool := newMockRepo(t)
	n := reminderNotification()

	pool.ExpectBegin()
	pool.ExpectExec("SET reminder_3_day_sent = TRUE").
		WithArgs("sub-1", "2026-02-09").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO notifications").
		WithArgs(n.ID, n.UserID, pgxmock.AnyArg(), "renewal_reminder", n.Title, n.Message, "warning", false, n.DedupeKey, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	fired, err := repo.RecordReminder(context.Background(), "2026-02-09", domain.FlagSent3, n)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordReminder_FlagAlreadySet(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec("SET reminder_3_day_sent = TRUE").
		WithArgs("sub-1", "2026-02-09").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	pool.ExpectRollback()

	fired, err := repo.RecordReminder(context.Background(), "2026-02-09", domain.FlagSent3, reminderNotification())
	require.NoError(t, err)
	assert.False(t, fired)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordReminder_RejectsUnknownFlag(t *testing.T) {
	repo, pool := newMockRepo(t)

	_, err := repo.RecordReminder(context.Background(), "2026-02-09", domain.FlagName("renewal_date = NULL, x"), reminderNotification())
	assert.Error(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordReminder_InsertFailureRollsBack(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec("SET reminder_1_day_sent = TRUE").
		WithArgs("sub-1", "2026-02-09").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO notifications").WillReturnError(errors.New("connection reset"))
	pool.ExpectRollback()

	_, err := repo.RecordReminder(context.Background(), "2026-02-09", domain.FlagSent1, reminderNotification())
	assert.Error(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordReminder_ExistingNotificationRollsBack(t *testing.T) {
	repo, pool := newMockRepo(t)

	pool.ExpectBegin()
	pool.ExpectExec("SET reminder_3_day_sent = TRUE").
		WithArgs("sub-1", "2026-02-09").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	pool.ExpectRollback()

	fired, err := repo.RecordReminder(context.Background(), "2026-02-09", domain.FlagSent3, reminderNotification())
	require.NoError(t, err)
	assert.False(t, fired)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordCancelFollowUp(t *testing.T) {
	attempt := time.Date(2026, 2, 3, 18, 0, 0, 0, time.UTC)
	n := domain.NotificationRequest{
		UserID:         "user-1",
		SubscriptionID: "sub-1",
		Kind:           domain.KindCancelFollowUp,
		Title:          "Did you cancel Netflix?",
		Type:           domain.NotificationInfo,
		DedupeKey:      "cancel_followup:sub-1:2026-02-03T18:00:00Z",
	}

	t.Run("stamps and notifies", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectBegin()
		pool.ExpectExec("SET cancel_followup_sent_at = NOW()").
			WithArgs("sub-1", attempt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		pool.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pool.ExpectCommit()

		sent, err := repo.RecordCancelFollowUp(context.Background(), attempt, n)
		require.NoError(t, err)
		assert.True(t, sent)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("existing notification rolls back", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectBegin()
		pool.ExpectExec("SET cancel_followup_sent_at = NOW()").
			WithArgs("sub-1", attempt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		pool.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 0))
		pool.ExpectRollback()

		sent, err := repo.RecordCancelFollowUp(context.Background(), attempt, n)
		require.NoError(t, err)
		assert.False(t, sent)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestCreateNotification_DedupeConflict(t *testing.T) {
	repo, pool := newMockRepo(t)
	n := reminderNotification()

	pool.ExpectExec("INSERT INTO notifications").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.CreateNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestRecordCancelAttempt(t *testing.T) {
	at := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)

	t.Run("active subscription", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectExec("SET cancel_attempt_date").WithArgs("sub-1", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.RecordCancelAttempt(context.Background(), "sub-1", at))
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("missing or cancelled", func(t *testing.T) {
		repo, pool := newMockRepo(t)
		pool.ExpectExec("SET cancel_attempt_date").WithArgs("sub-1", at).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.RecordCancelAttempt(context.Background(), "sub-1", at), ErrSubscriptionNotFound)
	})
}

func TestSaveCancellationOutcome_ConfirmedAddsSavings(t *testing.T) {
	repo, pool := newMockRepo(t)
	now := time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC)
	attempt := now.Add(-50 * time.Hour)
	verified := true
	sub := domain.Subscription{
		ID: "sub-1", UserID: "user-1", Price: 15.49, Status: domain.StatusCancelled,
		CancelAttemptDate: &attempt, CancelVerified: &verified, CancelledDate: &now,
	}

	pool.ExpectBegin()
	pool.ExpectExec("UPDATE subscriptions").
		WithArgs("sub-1", "cancelled", sub.CancelAttemptDate, sub.CancelVerified, sub.CancelledDate).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO user_savings").WithArgs("user-1", 15.49).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	require.NoError(t, repo.SaveCancellationOutcome(context.Background(), sub, 15.49))
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSaveCancellationOutcome_DeniedSkipsSavings(t *testing.T) {
	repo, pool := newMockRepo(t)
	sub := domain.Subscription{ID: "sub-1", UserID: "user-1", Status: domain.StatusActive}

	pool.ExpectBegin()
	pool.ExpectExec("UPDATE subscriptions").
		WithArgs("sub-1", "active", sub.CancelAttemptDate, sub.CancelVerified, sub.CancelledDate).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectCommit()

	require.NoError(t, repo.SaveCancellationOutcome(context.Background(), sub, 0))
	assert.NoError(t, pool.ExpectationsWereMet())
}
