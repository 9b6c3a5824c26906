package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

const openWeatherBaseURL = "https://api.openweathermap.org"

// WeatherService pulls current conditions from OpenWeatherMap and stores them
// as observations.
type WeatherService struct {
	apiKey       string
	httpClient   *resty.Client
	cities       domain.CityRepository
	observations domain.ObservationRepository
	clock        clockwork.Clock
	logger       *zap.Logger
}

// NewWeatherService creates a new weather service. An empty apiKey disables it.
func NewWeatherService(apiKey, baseURL string, timeout time.Duration, cities domain.CityRepository,
	observations domain.ObservationRepository, clock clockwork.Clock, logger *zap.Logger) *WeatherService {
	if baseURL == "" {
		baseURL = openWeatherBaseURL
	}
	return &WeatherService{
		apiKey:       apiKey,
		httpClient:   resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		cities:       cities,
		observations: observations,
		clock:        clock,
		logger:       logger,
	}
}

// Enabled reports whether an API key is configured.
func (s *WeatherService) Enabled() bool {
	return s.apiKey != ""
}

// OpenWeatherResponse represents the OpenWeatherMap API response
type OpenWeatherResponse struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"` // m/s with units=metric
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

// GetCurrentWeather fetches current conditions for a city.
func (s *WeatherService) GetCurrentWeather(ctx context.Context, city domain.City) (domain.Observation, error) {
	var owResp OpenWeatherResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   strconv.FormatFloat(city.Lat, 'f', 4, 64),
			"lon":   strconv.FormatFloat(city.Lon, 'f', 4, 64),
			"appid": s.apiKey,
			"units": "metric",
		}).
		SetResult(&owResp).
		Get("/data/2.5/weather")
	if err != nil {
		return domain.Observation{}, fmt.Errorf("weather: request failed: %w", err)
	}
	if resp.IsError() {
		return domain.Observation{}, fmt.Errorf("weather: openweathermap returned status %d", resp.StatusCode())
	}

	ts := s.clock.Now().UTC().Truncate(time.Second)
	if owResp.Dt > 0 {
		ts = time.Unix(owResp.Dt, 0).UTC()
	}
	obs := domain.Observation{
		CityID:      city.ID,
		Timestamp:   ts,
		Temperature: owResp.Main.Temp,
		Humidity:    owResp.Main.Humidity,
		Pressure:    owResp.Main.Pressure,
		WindSpeed:   owResp.Wind.Speed * 3.6,
		Rainfall:    owResp.Rain.OneHour,
	}
	if len(owResp.Weather) > 0 {
		obs.Description = owResp.Weather[0].Description
	}
	return obs, nil
}

// RefreshAll stores one fresh observation per city. Per-city failures are
// logged and skipped; it returns the number of cities stored.
func (s *WeatherService) RefreshAll(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	cities, err := s.cities.Cities(ctx)
	if err != nil {
		return 0, fmt.Errorf("weather: failed to list cities: %w", err)
	}

	stored := 0
	for _, city := range cities {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}
		obs, err := s.GetCurrentWeather(ctx, city)
		if err != nil {
			s.logger.Warn("observation fetch failed", zap.String("city", city.Label()), zap.Error(err))
			continue
		}
		if err := s.observations.SaveObservation(ctx, obs); err != nil {
			s.logger.Error("observation save failed", zap.String("city", city.Label()), zap.Error(err))
			continue
		}
		stored++
	}
	s.logger.Info("observations refreshed", zap.Int("stored", stored), zap.Int("cities", len(cities)))
	return stored, nil
}
