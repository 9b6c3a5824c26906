package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/laoweather/backend/internal/domain"
)

// Cities lists every monitored city.
func (r *PostgresRepository) Cities(ctx context.Context) ([]domain.City, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, name_en, lat, lon FROM cities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query cities: %w", err)
	}
	defer rows.Close()

	var results []domain.City
	for rows.Next() {
		var c domain.City
		if err := rows.Scan(&c.ID, &c.Name, &c.NameEN, &c.Lat, &c.Lon); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan city: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate cities: %w", err)
	}
	return results, nil
}

// CityByID loads one city.
func (r *PostgresRepository) CityByID(ctx context.Context, id int64) (domain.City, error) {
	var c domain.City
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, name_en, lat, lon FROM cities WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.NameEN, &c.Lat, &c.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return c, domain.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("postgres: failed to load city: %w", err)
	}
	return c, nil
}

// ActivityCounts counts observations, news and users created since the given instant.
func (r *PostgresRepository) ActivityCounts(ctx context.Context, since time.Time) (domain.ActivityCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM weather WHERE created_at >= $1),
			(SELECT COUNT(*) FROM news WHERE created_at >= $1),
			(SELECT COUNT(*) FROM users WHERE created_at >= $1)
	`
	var c domain.ActivityCounts
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&c.Observations, &c.News, &c.Users); err != nil {
		return c, fmt.Errorf("postgres: failed to count activity: %w", err)
	}
	return c, nil
}
