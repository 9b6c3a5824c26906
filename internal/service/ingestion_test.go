package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
	"github.com/laoweather/backend/internal/repository/postgres"
	"github.com/laoweather/backend/internal/service"
)

type fakeForecastSource struct {
	mu       sync.Mutex
	requests []domain.ForecastRequest
	failLat  float64
	samples  []domain.ForecastSample
}

func (f *fakeForecastSource) Forecast(_ context.Context, req domain.ForecastRequest) ([]domain.ForecastSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failLat != 0 && req.Lat == f.failLat {
		return nil, fmt.Errorf("upstream 503: %w", domain.ErrForecastSource)
	}
	if f.samples != nil {
		return f.samples, nil
	}
	out := make([]domain.ForecastSample, req.Days)
	for i := range out {
		out[i] = domain.ForecastSample{
			Time:        testNow.AddDate(0, 0, i+1).Format("2006-01-02"),
			Temperature: 28 + float64(i),
			Humidity:    70,
			Pressure:    1010,
		}
	}
	return out, nil
}

func newIngestor(t *testing.T, source domain.ForecastSource, repo *postgres.MockRepository, clock clockwork.Clock,
	cfg service.IngestionConfig) (*service.ForecastIngestor, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	return service.NewForecastIngestor(source, repo, clock, zap.NewNop(), metrics, cfg), metrics
}

func TestForecastIngestor_RunCityIsIdempotent(t *testing.T) {
	repo := postgres.NewMockRepository()
	source := &fakeForecastSource{}
	ing, metrics := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{Horizon: 7})
	ctx := context.Background()

	n, err := ing.RunCity(ctx, vientiane)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = ing.RunCity(ctx, vientiane)
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := repo.ForecastStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.EqualValues(t, 7, stats.Total)
	assert.InDelta(t, 7, testutil.ToFloat64(metrics.ForecastPointsInserted), 0)

	points, err := repo.ForecastsBetween(ctx, 1, testNow, testNow.AddDate(0, 0, 30), 0)
	require.NoError(t, err)
	require.Len(t, points, 7)
	assert.Equal(t, "LSTM Prediction - Model v1.0 (17.9757, 102.6331)", points[0].Description)
	assert.Equal(t, testNow, points[0].CreatedAt)
}

func TestForecastIngestor_RunCitySendsHistory(t *testing.T) {
	repo := postgres.NewMockRepository()
	ctx := context.Background()
	require.NoError(t, repo.SaveObservation(ctx, domain.Observation{CityID: 1, Timestamp: testNow.Add(-time.Hour), Temperature: 30, Rainfall: 2}))
	require.NoError(t, repo.SaveObservation(ctx, domain.Observation{CityID: 1, Timestamp: testNow.Add(-2 * time.Hour), Temperature: 26, Rainfall: 1}))
	require.NoError(t, repo.SaveObservation(ctx, domain.Observation{CityID: 1, Timestamp: testNow.AddDate(0, 0, -40), Temperature: 10}))

	source := &fakeForecastSource{}
	ing, _ := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{Horizon: 3})

	_, err := ing.RunCity(ctx, vientiane)
	require.NoError(t, err)

	require.Len(t, source.requests, 1)
	req := source.requests[0]
	assert.Equal(t, 3, req.Days)
	assert.Len(t, req.Historical, 2)
	require.NotNil(t, req.Context)
	assert.InDelta(t, 28, req.Context.AvgTemperature, 0.001)
	assert.InDelta(t, 3, req.Context.TotalRainfall, 0.001)
	assert.Equal(t, 2, req.Context.RecordCount)
}

func TestForecastIngestor_DuplicateTimestampsInBatch(t *testing.T) {
	repo := postgres.NewMockRepository()
	source := &fakeForecastSource{samples: []domain.ForecastSample{
		{Time: "2026-03-11", Temperature: 30},
		{Time: "2026-03-11T00:00:00Z", Temperature: 31},
		{Time: "2026-03-12 00:00:00", Temperature: 32},
	}}
	ing, _ := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{})

	n, err := ing.RunCity(context.Background(), vientiane)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestForecastIngestor_BadTimestamp(t *testing.T) {
	repo := postgres.NewMockRepository()
	source := &fakeForecastSource{samples: []domain.ForecastSample{{Time: "tomorrow", Temperature: 30}}}
	ing, _ := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{})

	_, err := ing.RunCity(context.Background(), vientiane)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForecastSource)
}

func TestForecastIngestor_RunAllIsolatesFailures(t *testing.T) {
	repo := postgres.NewMockRepository()
	pakse := domain.DefaultCities()[2]
	source := &fakeForecastSource{failLat: pakse.Lat}
	ing, metrics := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{Horizon: 2})

	results, err := ing.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(domain.DefaultCities()))

	for _, r := range results {
		if r.CityID == pakse.ID {
			assert.Equal(t, "error", r.Status)
			assert.Contains(t, r.Error, "upstream 503")
			assert.Zero(t, r.Forecasts)
			continue
		}
		assert.Equal(t, "success", r.Status, r.City)
		assert.Equal(t, 2, r.Forecasts)
	}
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ForecastSourceErrors), 0)
}

func TestForecastIngestor_RunAllWaitsBetweenCities(t *testing.T) {
	repo := postgres.NewMockRepository()
	clock := clockwork.NewFakeClockAt(testNow)
	// The first city fails; the pause still follows it.
	source := &fakeForecastSource{failLat: domain.DefaultCities()[0].Lat}
	ing, _ := newIngestor(t, source, repo, clock, service.IngestionConfig{Horizon: 1, CityDelay: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		results []service.CityResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := ing.RunAll(ctx)
		done <- outcome{results, err}
	}()

	cities := len(domain.DefaultCities())
	for i := 0; i < cities-1; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		source.mu.Lock()
		assert.Len(t, source.requests, i+1)
		source.mu.Unlock()
		clock.Advance(2 * time.Second)
	}

	got := <-done
	require.NoError(t, got.err)
	require.Len(t, got.results, cities)
	assert.Equal(t, "error", got.results[0].Status)
	assert.Equal(t, "success", got.results[1].Status)
}

func TestForecastIngestor_RunAllStopsOnCancel(t *testing.T) {
	repo := postgres.NewMockRepository()
	clock := clockwork.NewFakeClockAt(testNow)
	ing, _ := newIngestor(t, &fakeForecastSource{}, repo, clock, service.IngestionConfig{Horizon: 1, CityDelay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var results []service.CityResult
	go func() {
		var err error
		results, err = ing.RunAll(ctx)
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, results, 1)
}

func TestForecastIngestor_CleanupAndStatus(t *testing.T) {
	repo := postgres.NewMockRepository()
	clock := clockwork.NewFakeClockAt(testNow)
	ing, _ := newIngestor(t, &fakeForecastSource{}, repo, clock, service.IngestionConfig{Retention: 7 * 24 * time.Hour})
	ctx := context.Background()

	_, err := repo.InsertForecasts(ctx, []domain.ForecastPoint{
		{CityID: 1, Timestamp: testNow.Add(24 * time.Hour), CreatedAt: testNow.AddDate(0, 0, -8)},
		{CityID: 1, Timestamp: testNow.Add(48 * time.Hour), CreatedAt: testNow.Add(-time.Hour)},
		{CityID: 2, Timestamp: testNow.Add(48 * time.Hour), CreatedAt: testNow.AddDate(0, 0, -1)},
	})
	require.NoError(t, err)

	status, err := ing.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.SystemActive)
	assert.EqualValues(t, 3, status.Total)
	assert.EqualValues(t, 1, status.Today)
	require.NotNil(t, status.Latest)
	assert.Equal(t, testNow.Add(-time.Hour), status.Latest.CreatedAt)

	deleted, err := ing.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	status, err = ing.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, status.Total)
}

func TestForecastIngestor_PredictionsAndHistory(t *testing.T) {
	repo := postgres.NewMockRepository()
	ing, _ := newIngestor(t, &fakeForecastSource{}, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{Horizon: 7})
	ctx := context.Background()

	_, err := ing.Predictions(ctx, 999, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = ing.History(ctx, 999, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ing.RunCity(ctx, vientiane)
	require.NoError(t, err)

	points, err := ing.Predictions(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, points, 3)
	assert.True(t, points[0].Timestamp.Before(points[1].Timestamp))

	require.NoError(t, repo.SaveObservation(ctx, domain.Observation{CityID: 1, Timestamp: testNow.Add(-time.Hour), Temperature: 31}))
	history, err := ing.History(ctx, 1, 7)
	require.NoError(t, err)
	assert.Len(t, history.Observations, 1)
	require.NotNil(t, history.Stats)
	assert.InDelta(t, 31, history.Stats.MaxTemperature, 0.001)
}

func TestForecastIngestor_PredictCityUsesGivenCoordinates(t *testing.T) {
	repo := postgres.NewMockRepository()
	source := &fakeForecastSource{}
	ing, _ := newIngestor(t, source, repo, clockwork.NewFakeClockAt(testNow), service.IngestionConfig{Horizon: 1})

	res, err := ing.PredictCity(context.Background(), 1, 18.0, 102.5)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 1, res.Forecasts)
	require.Len(t, source.requests, 1)
	assert.InDelta(t, 18.0, source.requests[0].Lat, 0)

	_, err = ing.PredictCity(context.Background(), 404, 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
