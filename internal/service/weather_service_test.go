package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/repository/postgres"
	"github.com/laoweather/backend/internal/service"
)

const owmBody = `{
	"dt": 1773129600,
	"main": {"temp": 33.4, "humidity": 61, "pressure": 1006},
	"weather": [{"description": "scattered clouds"}],
	"wind": {"speed": 10},
	"rain": {"1h": 2.5}
}`

func TestWeatherService_GetCurrentWeather(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		assert.Equal(t, "/data/2.5/weather", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	repo := postgres.NewMockRepository()
	svc := service.NewWeatherService("key", srv.URL, time.Second, repo, repo, clockwork.NewFakeClockAt(testNow), zap.NewNop())

	obs, err := svc.GetCurrentWeather(context.Background(), vientiane)
	require.NoError(t, err)
	assert.Equal(t, int64(1), obs.CityID)
	assert.InDelta(t, 33.4, obs.Temperature, 0.001)
	assert.InDelta(t, 36, obs.WindSpeed, 0.001)
	assert.InDelta(t, 2.5, obs.Rainfall, 0.001)
	assert.Equal(t, "scattered clouds", obs.Description)
	assert.Equal(t, time.Unix(1773129600, 0).UTC(), obs.Timestamp)
	assert.Contains(t, query.Load().(string), "appid=key")
	assert.Contains(t, query.Load().(string), "units=metric")
}

func TestWeatherService_RefreshAll(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(owmBody))
	}))
	defer srv.Close()

	repo := postgres.NewMockRepository()
	svc := service.NewWeatherService("key", srv.URL, time.Second, repo, repo, clockwork.NewFakeClockAt(testNow), zap.NewNop())

	stored, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(domain.DefaultCities())-1, stored)

	latest, err := repo.LatestObservations(context.Background())
	require.NoError(t, err)
	assert.Len(t, latest, stored)
}

func TestWeatherService_DisabledWithoutKey(t *testing.T) {
	repo := postgres.NewMockRepository()
	svc := service.NewWeatherService("", "", time.Second, repo, repo, clockwork.NewFakeClockAt(testNow), zap.NewNop())

	assert.False(t, svc.Enabled())
	stored, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stored)
}
