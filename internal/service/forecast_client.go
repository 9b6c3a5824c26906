package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/pkg/utils"
)

// ForecastClient talks to the LSTM forecast service.
type ForecastClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

var _ domain.ForecastSource = (*ForecastClient)(nil)

// NewForecastClient creates a client for the service at baseURL. Calls are not
// retried; the next scheduled run is the retry.
func NewForecastClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ForecastClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &ForecastClient{httpClient: client, logger: logger}
}

type historicalRecord struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	WindSpeed   float64 `json:"wind_speed"`
	Rainfall    float64 `json:"rainfall"`
}

type forecastRequestBody struct {
	Lat            float64                `json:"lat"`
	Lon            float64                `json:"lon"`
	Timestamp      string                 `json:"timestamp"`
	HistoricalData []historicalRecord     `json:"historical_data,omitempty"`
	UseHistorical  bool                   `json:"use_historical,omitempty"`
	WeatherContext *domain.WeatherContext `json:"weather_context,omitempty"`
}

type forecastResponse struct {
	Status      string          `json:"status"`
	Success     *bool           `json:"success"`
	Error       string          `json:"error"`
	Predictions json.RawMessage `json:"predictions"`
}

// columnarPredictions is the {times[], temperatures[], ...} response shape.
type columnarPredictions struct {
	Times        []string  `json:"times"`
	Temperatures []float64 `json:"temperatures"`
	Humidities   []float64 `json:"humidities"`
	Rainfalls    []float64 `json:"rainfalls"`
	Pressures    []float64 `json:"pressures"`
	WindSpeeds   []float64 `json:"wind_speeds"`
}

// predictionRow is the row-per-day response shape.
type predictionRow struct {
	Date        string   `json:"date"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"predicted_temperature"`
	Humidity    float64  `json:"predicted_humidity"`
	Rainfall    float64  `json:"predicted_rainfall"`
	Pressure    float64  `json:"predicted_pressure"`
	WindSpeed   float64  `json:"predicted_wind_speed"`
}

// Forecast requests a multi-day prediction for one location.
func (c *ForecastClient) Forecast(ctx context.Context, req domain.ForecastRequest) ([]domain.ForecastSample, error) {
	body := forecastRequestBody{
		Lat:       req.Lat,
		Lon:       req.Lon,
		Timestamp: req.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(req.Historical) > 0 {
		body.UseHistorical = true
		body.HistoricalData = make([]historicalRecord, len(req.Historical))
		for i, o := range req.Historical {
			body.HistoricalData[i] = historicalRecord{
				Timestamp:   utils.FormatTimestamp(o.Timestamp),
				Temperature: o.Temperature,
				Humidity:    o.Humidity,
				Pressure:    o.Pressure,
				WindSpeed:   o.WindSpeed,
				Rainfall:    o.Rainfall,
			}
		}
		body.WeatherContext = req.Context
	}

	var out forecastResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":  strconv.FormatFloat(req.Lat, 'f', -1, 64),
			"lon":  strconv.FormatFloat(req.Lon, 'f', -1, 64),
			"days": strconv.Itoa(req.Days),
		}).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/ingest_and_predict")
	if err != nil {
		return nil, fmt.Errorf("forecast_client: request failed: %w: %w", domain.ErrForecastSource, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("forecast_client: service returned status %d %s: %w",
			resp.StatusCode(), out.Error, domain.ErrForecastSource)
	}
	if out.Status != "" && out.Status != "success" {
		return nil, fmt.Errorf("forecast_client: service reported status %q: %w", out.Status, domain.ErrForecastSource)
	}
	if out.Success != nil && !*out.Success {
		return nil, fmt.Errorf("forecast_client: service reported failure %q: %w", out.Error, domain.ErrForecastSource)
	}

	samples, err := decodePredictions(out.Predictions)
	if err != nil {
		return nil, err
	}
	if req.Days > 0 && len(samples) > req.Days {
		samples = samples[:req.Days]
	}

	c.logger.Debug("forecast received",
		zap.Float64("lat", req.Lat),
		zap.Float64("lon", req.Lon),
		zap.Int("points", len(samples)),
	)
	return samples, nil
}

func decodePredictions(raw json.RawMessage) ([]domain.ForecastSample, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("forecast_client: response has no predictions: %w", domain.ErrForecastSource)
	}

	var samples []domain.ForecastSample
	switch trimmed[0] {
	case '{':
		var cols columnarPredictions
		if err := json.Unmarshal(trimmed, &cols); err != nil {
			return nil, fmt.Errorf("forecast_client: malformed predictions: %w: %w", domain.ErrForecastSource, err)
		}
		n := len(cols.Times)
		for _, l := range []int{len(cols.Temperatures), len(cols.Humidities), len(cols.Rainfalls), len(cols.Pressures), len(cols.WindSpeeds)} {
			if l != n {
				return nil, fmt.Errorf("forecast_client: prediction columns have mismatched lengths: %w", domain.ErrForecastSource)
			}
		}
		for i := 0; i < n; i++ {
			samples = append(samples, domain.ForecastSample{
				Time:        cols.Times[i],
				Temperature: cols.Temperatures[i],
				Humidity:    cols.Humidities[i],
				Rainfall:    cols.Rainfalls[i],
				Pressure:    cols.Pressures[i],
				WindSpeed:   cols.WindSpeeds[i],
			})
		}
	case '[':
		var rows []predictionRow
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("forecast_client: malformed predictions: %w: %w", domain.ErrForecastSource, err)
		}
		for _, r := range rows {
			ts := r.Date
			if ts == "" {
				ts = r.Timestamp
			}
			if ts == "" || r.Temperature == nil {
				return nil, fmt.Errorf("forecast_client: prediction row missing date or temperature: %w", domain.ErrForecastSource)
			}
			samples = append(samples, domain.ForecastSample{
				Time:        ts,
				Temperature: *r.Temperature,
				Humidity:    r.Humidity,
				Rainfall:    r.Rainfall,
				Pressure:    r.Pressure,
				WindSpeed:   r.WindSpeed,
			})
		}
	default:
		return nil, fmt.Errorf("forecast_client: unexpected predictions payload: %w", domain.ErrForecastSource)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("forecast_client: response has no predictions: %w", domain.ErrForecastSource)
	}
	return samples, nil
}

// Health checks forecast service connectivity
func (c *ForecastClient) Health(ctx context.Context) error {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("forecast_client: health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("forecast_client: health check returned status %d", resp.StatusCode())
	}
	return nil
}
