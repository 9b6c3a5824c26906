package postgres

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/laoweather/backend/internal/domain"
)

// MockRepository is an in-memory domain.Store for tests and for demo mode when
// no database is reachable. It applies the same dedup and uniqueness rules as
// the Postgres store.
type MockRepository struct {
	mu           sync.Mutex
	cities       []domain.City
	observations []domain.Observation
	forecasts    []domain.ForecastPoint
	alerts       []domain.Alert
	news         []time.Time
	users        []time.Time
	nextID       int64
	healthErr    error
}

var _ domain.Store = (*MockRepository)(nil)

// NewMockRepository creates a store seeded with the default cities.
func NewMockRepository() *MockRepository {
	return &MockRepository{cities: domain.DefaultCities()}
}

// SetHealthError makes Health return err.
func (r *MockRepository) SetHealthError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthErr = err
}

// AddNews records a news item created at ts.
func (r *MockRepository) AddNews(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news = append(r.news, ts)
}

// AddUser records a user registered at ts.
func (r *MockRepository) AddUser(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, ts)
}

func (r *MockRepository) id() int64 {
	r.nextID++
	return r.nextID
}

// Health reports the configured health error, nil by default.
func (r *MockRepository) Health(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthErr
}

// LatestObservations returns the newest observation per city.
func (r *MockRepository) LatestObservations(ctx context.Context) ([]domain.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest := make(map[int64]domain.Observation)
	for _, o := range r.observations {
		if cur, ok := latest[o.CityID]; !ok || !o.Timestamp.Before(cur.Timestamp) {
			latest[o.CityID] = o
		}
	}
	out := make([]domain.Observation, 0, len(latest))
	for _, o := range latest {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CityID < out[j].CityID })
	return out, nil
}

// ObservationsSince returns a city's observations newer than since, newest first.
func (r *MockRepository) ObservationsSince(ctx context.Context, cityID int64, since time.Time, limit int) ([]domain.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Observation
	for _, o := range r.observations {
		if o.CityID == cityID && !o.Timestamp.Before(since) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveObservation stores a reading.
func (r *MockRepository) SaveObservation(ctx context.Context, obs domain.Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs.ID = r.id()
	r.observations = append(r.observations, obs)
	return nil
}

// ForecastExists checks for a point at (cityID, ts).
func (r *MockRepository) ForecastExists(ctx context.Context, cityID int64, ts time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forecastExists(cityID, ts), nil
}

func (r *MockRepository) forecastExists(cityID int64, ts time.Time) bool {
	for _, p := range r.forecasts {
		if p.CityID == cityID && p.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

// InsertForecasts stores points, skipping existing (city, timestamp) keys.
func (r *MockRepository) InsertForecasts(ctx context.Context, points []domain.ForecastPoint) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, p := range points {
		if r.forecastExists(p.CityID, p.Timestamp) {
			continue
		}
		p.ID = r.id()
		r.forecasts = append(r.forecasts, p)
		inserted++
	}
	return inserted, nil
}

// ForecastsBetween returns a city's points in [from, to), earliest first.
func (r *MockRepository) ForecastsBetween(ctx context.Context, cityID int64, from, to time.Time, limit int) ([]domain.ForecastPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ForecastPoint
	for _, p := range r.forecasts {
		if p.CityID == cityID && !p.Timestamp.Before(from) && p.Timestamp.Before(to) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteForecastsCreatedBefore removes points created before cutoff.
func (r *MockRepository) DeleteForecastsCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.forecasts[:0]
	var deleted int64
	for _, p := range r.forecasts {
		if p.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	r.forecasts = kept
	return deleted, nil
}

// ForecastStats counts stored points.
func (r *MockRepository) ForecastStats(ctx context.Context, dayStart time.Time) (domain.ForecastStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.ForecastStats{Total: int64(len(r.forecasts))}
	for i, p := range r.forecasts {
		if !p.CreatedAt.Before(dayStart) {
			stats.Today++
		}
		if stats.Latest == nil || !p.CreatedAt.Before(stats.Latest.CreatedAt) {
			latest := r.forecasts[i]
			stats.Latest = &latest
		}
	}
	return stats, nil
}

// InsertAlertIfAbsent stores an auto-generated alert unless the same type and
// title exists within window before alert.CreatedAt.
func (r *MockRepository) InsertAlertIfAbsent(ctx context.Context, alert domain.Alert, window time.Duration) (domain.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	since := alert.CreatedAt.Add(-window)
	for _, a := range r.alerts {
		if a.Type == alert.Type && a.Title == alert.Title && !a.CreatedAt.Before(since) {
			return alert, false, nil
		}
	}
	alert.Metadata.AutoGenerated = true
	return r.insert(alert), true, nil
}

// CreateAlert stores an alert unconditionally.
func (r *MockRepository) CreateAlert(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(alert), nil
}

func (r *MockRepository) insert(alert domain.Alert) domain.Alert {
	alert.PersistedID = r.id()
	alert.ID = domain.PersistedAlertID(alert.PersistedID)
	alert.Source = domain.SourceDatabase
	if alert.Status == "" {
		alert.Status = domain.StatusUnread
	}
	r.alerts = append(r.alerts, alert)
	return alert
}

// RecentAlerts returns stored alerts newest first.
func (r *MockRepository) RecentAlerts(ctx context.Context, q domain.AlertQuery) ([]domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Alert
	for _, a := range r.alerts {
		if !q.Since.IsZero() && a.CreatedAt.Before(q.Since) {
			continue
		}
		if len(q.Types) > 0 && !containsFold(q.Types, a.Type) {
			continue
		}
		a.Priority = normalizePriority(string(a.Priority), a.Type)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PersistedID > out[j].PersistedID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkAlertRead flips one alert to Read.
func (r *MockRepository) MarkAlertRead(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.alerts {
		if r.alerts[i].PersistedID == id {
			r.alerts[i].Status = domain.StatusRead
			return nil
		}
	}
	return domain.ErrNotFound
}

// MarkAllAlertsRead flips every unread alert to Read.
func (r *MockRepository) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.alerts {
		if r.alerts[i].Status != domain.StatusRead {
			r.alerts[i].Status = domain.StatusRead
			n++
		}
	}
	return n, nil
}

// DeleteAlert removes one alert.
func (r *MockRepository) DeleteAlert(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.alerts {
		if a.PersistedID == id {
			r.alerts = append(r.alerts[:i], r.alerts[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// DeleteAlertsBefore purges alerts created before cutoff.
func (r *MockRepository) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.alerts[:0]
	var n int64
	for _, a := range r.alerts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.alerts = kept
	return n, nil
}

// DeleteAllAlerts purges every alert.
func (r *MockRepository) DeleteAllAlerts(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.alerts))
	r.alerts = nil
	return n, nil
}

// CountUnreadAlerts counts alerts not yet read.
func (r *MockRepository) CountUnreadAlerts(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.alerts {
		if a.Status != domain.StatusRead {
			n++
		}
	}
	return n, nil
}

// Cities lists the seeded cities.
func (r *MockRepository) Cities(ctx context.Context) ([]domain.City, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.City(nil), r.cities...), nil
}

// CityByID loads one city.
func (r *MockRepository) CityByID(ctx context.Context, id int64) (domain.City, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cities {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.City{}, domain.ErrNotFound
}

// ActivityCounts counts rows created since the given instant.
func (r *MockRepository) ActivityCounts(ctx context.Context, since time.Time) (domain.ActivityCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c domain.ActivityCounts
	for _, o := range r.observations {
		if !o.Timestamp.Before(since) {
			c.Observations++
		}
	}
	c.News = countSince(r.news, since)
	c.Users = countSince(r.users, since)
	return c, nil
}

func countSince(ts []time.Time, since time.Time) int64 {
	var n int64
	for _, t := range ts {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
