package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/laoweather/backend/internal/domain"
)

const observationColumns = `id, city_id, timestamp, temperature, humidity, pressure, wind_speed, rainfall, lightning, description`

// LatestObservations returns the newest observation for each city.
func (r *PostgresRepository) LatestObservations(ctx context.Context) ([]domain.Observation, error) {
	query := `
		SELECT DISTINCT ON (city_id) ` + observationColumns + `
		FROM weather
		ORDER BY city_id, timestamp DESC, id DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query latest observations: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// ObservationsSince returns a city's observations newer than since.
func (r *PostgresRepository) ObservationsSince(ctx context.Context, cityID int64, since time.Time, limit int) ([]domain.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM weather
		WHERE city_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, cityID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query observations: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// SaveObservation persists a reading.
func (r *PostgresRepository) SaveObservation(ctx context.Context, obs domain.Observation) error {
	query := `
		INSERT INTO weather (
			city_id, timestamp, temperature, humidity, pressure,
			wind_speed, rainfall, lightning, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var lightning sql.NullFloat64
	if obs.Lightning != nil {
		lightning = sql.NullFloat64{Float64: *obs.Lightning, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		obs.CityID, obs.Timestamp, obs.Temperature, obs.Humidity, obs.Pressure,
		obs.WindSpeed, obs.Rainfall, lightning, obs.Description,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save observation: %w", err)
	}
	return nil
}

func scanObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var results []domain.Observation
	for rows.Next() {
		var (
			o                                             domain.Observation
			humidity, pressure, wind, rainfall, lightning sql.NullFloat64
		)
		if err := rows.Scan(
			&o.ID, &o.CityID, &o.Timestamp, &o.Temperature,
			&humidity, &pressure, &wind, &rainfall, &lightning, &o.Description,
		); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan observation: %w", err)
		}
		o.Humidity = humidity.Float64
		o.Pressure = valueOr(pressure, domain.DefaultPressure)
		o.WindSpeed = valueOr(wind, domain.DefaultWindSpeed)
		o.Rainfall = valueOr(rainfall, domain.DefaultRainfall)
		if lightning.Valid {
			v := lightning.Float64
			o.Lightning = &v
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate observations: %w", err)
	}
	return results, nil
}

func valueOr(v sql.NullFloat64, def float64) float64 {
	if v.Valid {
		return v.Float64
	}
	return def
}
