package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/laoweather/backend/internal/domain"
)

const forecastColumns = `id, city_id, timestamp, predicted_temperature, predicted_humidity,
	predicted_rainfall, predicted_pressure, predicted_wind_speed, description, created_at`

// ForecastExists checks for a machine-generated point at (cityID, ts).
func (r *PostgresRepository) ForecastExists(ctx context.Context, cityID int64, ts time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM weatherforecast
			WHERE city_id = $1 AND timestamp = $2 AND machine_generated
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, cityID, ts).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: failed to check forecast: %w", err)
	}
	return exists, nil
}

// InsertForecasts writes all points in one statement. Rows colliding with the
// (city_id, timestamp) unique index are skipped by the database.
func (r *PostgresRepository) InsertForecasts(ctx context.Context, points []domain.ForecastPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	const cols = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO weatherforecast (
		city_id, timestamp, predicted_temperature, predicted_humidity, predicted_rainfall,
		predicted_pressure, predicted_wind_speed, description, created_at
	) VALUES `)
	args := make([]any, 0, len(points)*cols)
	for i, p := range points {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 1; j <= cols; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j)
		}
		sb.WriteString(")")
		args = append(args,
			p.CityID, p.Timestamp, p.Temperature, p.Humidity, p.Rainfall,
			p.Pressure, p.WindSpeed, p.Description, p.CreatedAt,
		)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to insert forecasts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count inserted forecasts: %w", err)
	}
	return int(n), nil
}

// ForecastsBetween returns machine-generated points for a city in [from, to).
func (r *PostgresRepository) ForecastsBetween(ctx context.Context, cityID int64, from, to time.Time, limit int) ([]domain.ForecastPoint, error) {
	query := `
		SELECT ` + forecastColumns + `
		FROM weatherforecast
		WHERE city_id = $1 AND machine_generated AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, cityID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query forecasts: %w", err)
	}
	defer rows.Close()

	var results []domain.ForecastPoint
	for rows.Next() {
		p, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate forecasts: %w", err)
	}
	return results, nil
}

// DeleteForecastsCreatedBefore removes machine-generated points older than cutoff.
func (r *PostgresRepository) DeleteForecastsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM weatherforecast WHERE machine_generated AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete old forecasts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count deleted forecasts: %w", err)
	}
	return n, nil
}

// ForecastStats counts machine-generated points and loads the newest one.
func (r *PostgresRepository) ForecastStats(ctx context.Context, dayStart time.Time) (domain.ForecastStats, error) {
	var stats domain.ForecastStats
	countQuery := `
		SELECT COUNT(*) FILTER (WHERE created_at >= $1), COUNT(*)
		FROM weatherforecast
		WHERE machine_generated
	`
	if err := r.db.QueryRowContext(ctx, countQuery, dayStart).Scan(&stats.Today, &stats.Total); err != nil {
		return stats, fmt.Errorf("postgres: failed to count forecasts: %w", err)
	}

	latestQuery := `
		SELECT ` + forecastColumns + `
		FROM weatherforecast
		WHERE machine_generated
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	p, err := scanForecast(r.db.QueryRowContext(ctx, latestQuery))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return stats, err
	default:
		stats.Latest = &p
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForecast(row rowScanner) (domain.ForecastPoint, error) {
	var p domain.ForecastPoint
	err := row.Scan(
		&p.ID, &p.CityID, &p.Timestamp, &p.Temperature, &p.Humidity,
		&p.Rainfall, &p.Pressure, &p.WindSpeed, &p.Description, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("postgres: failed to scan forecast: %w", err)
	}
	return p, nil
}
