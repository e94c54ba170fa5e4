package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/subsnooze/renewal-service/internal/domain"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateNotification writes an unread in-app notification. When n carries a
// dedupe key and a row with that key already exists, nothing is written and
// false is returned.
func (r *Repository) CreateNotification(ctx context.Context, n domain.NotificationRequest) (bool, error) {
	return insertNotification(ctx, r.db, n)
}

func insertNotification(ctx context.Context, db execer, n domain.NotificationRequest) (bool, error) {
	if strings.TrimSpace(n.ID) == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var subscriptionID *string
	if n.SubscriptionID != "" {
		subscriptionID = &n.SubscriptionID
	}

	if key := strings.TrimSpace(n.DedupeKey); key != "" {
		query := `
            INSERT INTO notifications (
                id, user_id, subscription_id, kind, title, message, type, read, dedupe_key, created_at
            )
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
        `
		tag, err := db.Exec(ctx, query,
			n.ID, n.UserID, subscriptionID, string(n.Kind), n.Title, n.Message, string(n.Type), n.Read, key, n.CreatedAt,
		)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}

	query := `
        INSERT INTO notifications (
            id, user_id, subscription_id, kind, title, message, type, read, dedupe_key, created_at
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9)
    `
	_, err := db.Exec(ctx, query,
		n.ID, n.UserID, subscriptionID, string(n.Kind), n.Title, n.Message, string(n.Type), n.Read, n.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}
