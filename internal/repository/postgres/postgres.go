package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository implements domain.Store on top of database/sql. In
// production the *sql.DB wraps a pgxpool via pgx's stdlib adapter.
type PostgresRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ domain.Store = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

// Migrate creates missing tables and indexes and seeds the default cities.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: failed to apply schema: %w", err)
	}
	return r.SeedCities(ctx, domain.DefaultCities())
}

// SeedCities inserts cities that are not stored yet.
func (r *PostgresRepository) SeedCities(ctx context.Context, cities []domain.City) error {
	query := `
		INSERT INTO cities (id, name, name_en, lat, lon)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	for _, c := range cities {
		if _, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.NameEN, c.Lat, c.Lon); err != nil {
			return fmt.Errorf("postgres: failed to seed city %d: %w", c.ID, err)
		}
	}
	return nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
