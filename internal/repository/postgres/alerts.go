package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/laoweather/backend/internal/domain"
)

// InsertAlertIfAbsent writes an auto-generated alert unless the same type and
// title was stored within window. The NOT EXISTS guard applies the trailing
// window; the (type, title, dedup_bucket) unique index closes the race between
// two concurrent inserts in the same bucket.
func (r *PostgresRepository) InsertAlertIfAbsent(ctx context.Context, alert domain.Alert, window time.Duration) (domain.Alert, bool, error) {
	if window <= 0 {
		return alert, false, fmt.Errorf("postgres: dedup window must be positive: %w", domain.ErrInvalidInput)
	}
	alert.Metadata.AutoGenerated = true
	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		return alert, false, fmt.Errorf("postgres: failed to marshal alert metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (
			type, title, message, priority, status, metadata,
			auto_generated, dedup_bucket, created_at, updated_at
		)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::jsonb,
			TRUE, $7::bigint, $8::timestamptz, $8::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications
			WHERE type = $1::text AND title = $2::text AND created_at >= $9::timestamptz
		)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	bucket := alert.CreatedAt.UnixNano() / int64(window)
	since := alert.CreatedAt.Add(-window)

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		alert.Type, alert.Title, alert.Message, string(alert.Priority), string(alert.Status),
		string(meta), bucket, alert.CreatedAt, since,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return alert, false, nil
	}
	if err != nil {
		return alert, false, fmt.Errorf("postgres: failed to insert alert: %w", err)
	}

	alert.PersistedID = id
	alert.ID = domain.PersistedAlertID(id)
	alert.Source = domain.SourceDatabase
	return alert, true, nil
}

// CreateAlert stores an alert without deduplication.
func (r *PostgresRepository) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		return alert, fmt.Errorf("postgres: failed to marshal alert metadata: %w", err)
	}
	query := `
		INSERT INTO notifications (
			type, title, message, priority, status, metadata,
			auto_generated, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $8)
		RETURNING id
	`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		alert.Type, alert.Title, alert.Message, string(alert.Priority), string(alert.Status),
		string(meta), alert.Metadata.AutoGenerated, alert.CreatedAt,
	).Scan(&id)
	if err != nil {
		return alert, fmt.Errorf("postgres: failed to create alert: %w", err)
	}
	alert.PersistedID = id
	alert.ID = domain.PersistedAlertID(id)
	alert.Source = domain.SourceDatabase
	return alert, nil
}

// RecentAlerts returns stored alerts newest first.
func (r *PostgresRepository) RecentAlerts(ctx context.Context, q domain.AlertQuery) ([]domain.Alert, error) {
	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			args = append(args, strings.ToLower(t))
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		where = append(where, "LOWER(type) IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, type, title, message, priority, status, metadata, created_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query alerts: %w", err)
	}
	defer rows.Close()

	var results []domain.Alert
	for rows.Next() {
		var (
			a        domain.Alert
			priority sql.NullString
			status   string
			meta     []byte
		)
		if err := rows.Scan(&a.PersistedID, &a.Type, &a.Title, &a.Message, &priority, &status, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan alert: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				r.logger.Sugar().Warnw("ignoring malformed alert metadata", "id", a.PersistedID, "error", err)
			}
		}
		a.ID = domain.PersistedAlertID(a.PersistedID)
		a.Source = domain.SourceDatabase
		a.Priority = normalizePriority(priority.String, a.Type)
		a.Status = normalizeStatus(status)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate alerts: %w", err)
	}
	return results, nil
}

// MarkAlertRead sets one alert's status to Read.
func (r *PostgresRepository) MarkAlertRead(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = 'Read', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark alert read: %w", err)
	}
	return requireAffected(res, "mark alert read")
}

// MarkAllAlertsRead sets every unread alert to Read.
func (r *PostgresRepository) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	return r.execCount(ctx, "mark all alerts read",
		`UPDATE notifications SET status = 'Read', updated_at = now() WHERE status <> 'Read'`)
}

// DeleteAlert removes one alert.
func (r *PostgresRepository) DeleteAlert(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete alert: %w", err)
	}
	return requireAffected(res, "delete alert")
}

// DeleteAlertsBefore purges alerts created before cutoff.
func (r *PostgresRepository) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.execCount(ctx, "delete old alerts", `DELETE FROM notifications WHERE created_at < $1`, cutoff)
}

// DeleteAllAlerts purges the notification table.
func (r *PostgresRepository) DeleteAllAlerts(ctx context.Context) (int64, error) {
	return r.execCount(ctx, "delete all alerts", `DELETE FROM notifications`)
}

// CountUnreadAlerts counts alerts not yet read.
func (r *PostgresRepository) CountUnreadAlerts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE status <> 'Read'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count unread alerts: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to %s: %w", op, err)
	}
	return n, nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to %s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func normalizePriority(raw, alertType string) domain.Priority {
	if p, ok := domain.ParsePriority(raw); ok {
		return p
	}
	return domain.PriorityForType(alertType)
}

func normalizeStatus(raw string) domain.Status {
	if strings.EqualFold(raw, string(domain.StatusRead)) {
		return domain.StatusRead
	}
	return domain.StatusUnread
}
