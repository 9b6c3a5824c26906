package domain

import (
	"context"
	"time"
)

// ObservationRepository reads and writes observed weather.
type ObservationRepository interface {
	// LatestObservations returns the most recent observation of every city that has one.
	LatestObservations(ctx context.Context) ([]Observation, error)

	// ObservationsSince returns a city's observations newer than since, newest first.
	ObservationsSince(ctx context.Context, cityID int64, since time.Time, limit int) ([]Observation, error)

	// SaveObservation stores a reading.
	SaveObservation(ctx context.Context, obs Observation) error
}

// ForecastRepository stores machine-generated forecast points.
type ForecastRepository interface {
	// ForecastExists reports whether a point for (cityID, ts) is already stored.
	ForecastExists(ctx context.Context, cityID int64, ts time.Time) (bool, error)

	// InsertForecasts writes points in one batch, silently skipping keys that
	// already exist. It returns the number of rows written.
	InsertForecasts(ctx context.Context, points []ForecastPoint) (int, error)

	// ForecastsBetween returns a city's points with from <= timestamp < to, earliest first.
	ForecastsBetween(ctx context.Context, cityID int64, from, to time.Time, limit int) ([]ForecastPoint, error)

	// DeleteForecastsCreatedBefore removes points created before cutoff.
	DeleteForecastsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ForecastStats counts stored points; today counts points created since dayStart.
	ForecastStats(ctx context.Context, dayStart time.Time) (ForecastStats, error)
}

// AlertQuery selects persisted alerts, newest first.
type AlertQuery struct {
	Since time.Time // zero means unbounded
	Types []string  // matched case-insensitively; empty means any
	Limit int       // <= 0 means unbounded
}

// AlertRepository persists notifications.
type AlertRepository interface {
	// InsertAlertIfAbsent stores an auto-generated alert unless one with the same
	// type and title was created within window before alert.CreatedAt. The
	// returned bool is true when a row was written.
	InsertAlertIfAbsent(ctx context.Context, alert Alert, window time.Duration) (Alert, bool, error)

	// CreateAlert stores an alert unconditionally.
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)

	RecentAlerts(ctx context.Context, q AlertQuery) ([]Alert, error)

	// MarkAlertRead flips one row to Read; ErrNotFound if absent.
	MarkAlertRead(ctx context.Context, id int64) error
	MarkAllAlertsRead(ctx context.Context) (int64, error)

	// DeleteAlert removes one row; ErrNotFound if absent.
	DeleteAlert(ctx context.Context, id int64) error
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAllAlerts(ctx context.Context) (int64, error)

	CountUnreadAlerts(ctx context.Context) (int64, error)
}

// CityRepository lists monitored cities.
type CityRepository interface {
	Cities(ctx context.Context) ([]City, error)
	// CityByID returns ErrNotFound for unknown ids.
	CityByID(ctx context.Context, id int64) (City, error)
}

// ActivityRepository counts rows owned by other parts of the application.
type ActivityRepository interface {
	ActivityCounts(ctx context.Context, since time.Time) (ActivityCounts, error)
}

// Store is the full persistence surface.
type Store interface {
	ObservationRepository
	ForecastRepository
	AlertRepository
	CityRepository
	ActivityRepository

	// Health checks database connectivity
	Health(ctx context.Context) error
}

// ForecastSource is the external prediction service.
type ForecastSource interface {
	Forecast(ctx context.Context, req ForecastRequest) ([]ForecastSample, error)
}

// AlertPublisher fans newly created alerts out to other consumers.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// SweepLocker serialises alert sweeps. TryLock returns ok=false when another
// holder has the lock; release must be called when ok is true.
type SweepLocker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}
