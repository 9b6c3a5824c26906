package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
	"github.com/laoweather/backend/pkg/utils"
)

const (
	modelVersion      = "v1.0"
	historyWindowDays = 30
	historyLimit      = 1000
	predictionsLimit  = 100
)

// IngestionStore is the persistence the ingestion job needs.
type IngestionStore interface {
	domain.ForecastRepository
	domain.ObservationRepository
	domain.CityRepository
}

// IngestionConfig tunes the forecast ingestion job.
type IngestionConfig struct {
	Horizon   int           // days requested per city
	CityDelay time.Duration // pause between cities in a batch run
	Retention time.Duration // age after which stored points are purged
	Location  *time.Location
}

// ForecastIngestor pulls forecasts from the forecast service and stores new points.
type ForecastIngestor struct {
	source  domain.ForecastSource
	store   IngestionStore
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     IngestionConfig
}

// NewForecastIngestor wires the ingestion job.
func NewForecastIngestor(source domain.ForecastSource, store IngestionStore, clock clockwork.Clock,
	logger *zap.Logger, metrics *observability.Metrics, cfg IngestionConfig) *ForecastIngestor {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ForecastIngestor{source: source, store: store, clock: clock, logger: logger, metrics: metrics, cfg: cfg}
}

// CityResult is the outcome of ingesting one city.
type CityResult struct {
	CityID    int64  `json:"cityId"`
	City      string `json:"city"`
	Status    string `json:"status"`
	Forecasts int    `json:"forecasts"`
	Error     string `json:"error,omitempty"`
}

// RunCity calls the forecast service once for city and stores every returned
// point whose (city, timestamp) is not stored yet. It returns the insert count.
func (s *ForecastIngestor) RunCity(ctx context.Context, city domain.City) (int, error) {
	now := s.clock.Now()
	req := domain.ForecastRequest{
		Lat:       city.Lat,
		Lon:       city.Lon,
		Days:      s.cfg.Horizon,
		Timestamp: now,
	}
	if history, err := s.store.ObservationsSince(ctx, city.ID, now.AddDate(0, 0, -historyWindowDays), historyLimit); err != nil {
		s.logger.Warn("historical observations unavailable, forecasting from location only",
			zap.String("city", city.Label()), zap.Error(err))
	} else if len(history) > 0 {
		req.Historical = history
		req.Context = summarize(history)
	}

	samples, err := s.source.Forecast(ctx, req)
	if err != nil {
		s.metrics.ForecastSourceErrors.Inc()
		return 0, fmt.Errorf("ingestion: forecast for %s failed: %w", city.Label(), err)
	}

	description := fmt.Sprintf("LSTM Prediction - Model %s (%.4f, %.4f)", modelVersion, city.Lat, city.Lon)
	seen := make(map[time.Time]bool, len(samples))
	staged := make([]domain.ForecastPoint, 0, len(samples))
	for _, sample := range samples {
		ts, err := utils.ParseTimestamp(sample.Time)
		if err != nil {
			s.metrics.ForecastSourceErrors.Inc()
			return 0, fmt.Errorf("ingestion: forecast for %s has a bad timestamp: %w: %w", city.Label(), domain.ErrForecastSource, err)
		}
		if seen[ts] {
			continue
		}
		seen[ts] = true

		exists, err := s.store.ForecastExists(ctx, city.ID, ts)
		if err != nil {
			return 0, fmt.Errorf("ingestion: failed to check existing forecast: %w", err)
		}
		if exists {
			continue
		}
		staged = append(staged, domain.ForecastPoint{
			CityID:      city.ID,
			Timestamp:   ts,
			Temperature: sample.Temperature,
			Humidity:    sample.Humidity,
			Rainfall:    sample.Rainfall,
			Pressure:    sample.Pressure,
			WindSpeed:   sample.WindSpeed,
			Description: description,
			CreatedAt:   now,
		})
	}

	inserted, err := s.store.InsertForecasts(ctx, staged)
	if err != nil {
		return 0, fmt.Errorf("ingestion: failed to store forecasts for %s: %w", city.Label(), err)
	}
	s.metrics.ForecastPointsInserted.Add(float64(inserted))
	s.logger.Info("forecast ingested",
		zap.String("city", city.Label()),
		zap.Int("received", len(samples)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

// PredictCity runs ingestion for a stored city at caller-supplied coordinates.
func (s *ForecastIngestor) PredictCity(ctx context.Context, cityID int64, lat, lon float64) (CityResult, error) {
	city, err := s.store.CityByID(ctx, cityID)
	if err != nil {
		return CityResult{}, err
	}
	city.Lat, city.Lon = lat, lon
	n, err := s.RunCity(ctx, city)
	if err != nil {
		return CityResult{}, err
	}
	return CityResult{CityID: city.ID, City: city.Label(), Status: "success", Forecasts: n}, nil
}

// RunAll ingests every city in turn. A failing city is recorded and the run
// moves on; the fixed delay between cities rate-limits the forecast service.
func (s *ForecastIngestor) RunAll(ctx context.Context) ([]CityResult, error) {
	cities, err := s.store.Cities(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to list cities: %w", err)
	}

	s.logger.Info("forecast sweep started", zap.Int("cities", len(cities)))
	results := make([]CityResult, 0, len(cities))
	failed := 0
	for i, city := range cities {
		res := CityResult{CityID: city.ID, City: city.Label(), Status: "success"}
		n, err := s.RunCity(ctx, city)
		if err != nil {
			failed++
			res.Status = "error"
			res.Error = err.Error()
			s.logger.Error("forecast ingestion failed", zap.String("city", city.Label()), zap.Error(err))
		}
		res.Forecasts = n
		results = append(results, res)

		if i < len(cities)-1 && s.cfg.CityDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-s.clock.After(s.cfg.CityDelay):
			}
		}
	}
	s.logger.Info("forecast sweep finished", zap.Int("cities", len(cities)), zap.Int("failed", failed))
	return results, nil
}

// Cleanup deletes stored points created before the retention cutoff.
func (s *ForecastIngestor) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Retention)
	n, err := s.store.DeleteForecastsCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ingestion: cleanup failed: %w", err)
	}
	s.logger.Info("old forecasts removed", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// IngestionStatus is the introspection view of the ingestion job.
type IngestionStatus struct {
	domain.ForecastStats
	SystemActive bool `json:"systemActive"`
}

// Status reports stored forecast counts. Today is the calendar day in the
// configured location.
func (s *ForecastIngestor) Status(ctx context.Context) (IngestionStatus, error) {
	stats, err := s.store.ForecastStats(ctx, utils.StartOfDay(s.clock.Now(), s.cfg.Location))
	if err != nil {
		return IngestionStatus{}, fmt.Errorf("ingestion: failed to load status: %w", err)
	}
	return IngestionStatus{ForecastStats: stats, SystemActive: true}, nil
}

// Predictions returns a city's stored points for the next days.
func (s *ForecastIngestor) Predictions(ctx context.Context, cityID int64, days int) ([]domain.ForecastPoint, error) {
	if _, err := s.store.CityByID(ctx, cityID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	points, err := s.store.ForecastsBetween(ctx, cityID, now, now.AddDate(0, 0, days), predictionsLimit)
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to load predictions: %w", err)
	}
	return points, nil
}

// History is a city's recent observations with summary statistics.
type History struct {
	Observations []domain.Observation   `json:"observations"`
	Stats        *domain.WeatherContext `json:"stats"`
}

// History returns a city's observations from the last days.
func (s *ForecastIngestor) History(ctx context.Context, cityID int64, days int) (History, error) {
	if _, err := s.store.CityByID(ctx, cityID); err != nil {
		return History{}, err
	}
	obs, err := s.store.ObservationsSince(ctx, cityID, s.clock.Now().AddDate(0, 0, -days), historyLimit)
	if err != nil {
		return History{}, fmt.Errorf("ingestion: failed to load history: %w", err)
	}
	return History{Observations: obs, Stats: summarize(obs)}, nil
}

// summarize aggregates observations into the context sent with forecast requests.
func summarize(obs []domain.Observation) *domain.WeatherContext {
	if len(obs) == 0 {
		return nil
	}
	c := &domain.WeatherContext{
		MinTemperature: obs[0].Temperature,
		MaxTemperature: obs[0].Temperature,
		RecordCount:    len(obs),
	}
	var temp, hum, pres, wind float64
	for _, o := range obs {
		temp += o.Temperature
		hum += o.Humidity
		pres += o.Pressure
		wind += o.WindSpeed
		c.TotalRainfall += o.Rainfall
		c.MinTemperature = min(c.MinTemperature, o.Temperature)
		c.MaxTemperature = max(c.MaxTemperature, o.Temperature)
	}
	n := float64(len(obs))
	c.AvgTemperature = utils.RoundTo(temp/n, 2)
	c.AvgHumidity = utils.RoundTo(hum/n, 2)
	c.AvgPressure = utils.RoundTo(pres/n, 2)
	c.AvgWindSpeed = utils.RoundTo(wind/n, 2)
	c.TotalRainfall = utils.RoundTo(c.TotalRainfall, 2)
	return c
}
