package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/service"
)

func forecastServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request, *map[string]any) {
	t.Helper()
	var captured http.Request
	payload := map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured, &payload
}

func forecastRequest(days int) domain.ForecastRequest {
	return domain.ForecastRequest{Lat: 17.9757, Lon: 102.6331, Days: days, Timestamp: testNow}
}

func TestForecastClient_ColumnarResponse(t *testing.T) {
	srv, req, payload := forecastServer(t, http.StatusOK, `{
		"status": "success",
		"predictions": {
			"times": ["2026-03-11", "2026-03-12"],
			"temperatures": [31.5, 29],
			"humidities": [70, 72],
			"rainfalls": [0, 55.2],
			"pressures": [1009, 1007],
			"wind_speeds": [12, 18]
		}
	}`)
	client := service.NewForecastClient(srv.URL, 5*time.Second, zap.NewNop())

	samples, err := client.Forecast(context.Background(), forecastRequest(7))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "2026-03-12", samples[1].Time)
	assert.InDelta(t, 55.2, samples[1].Rainfall, 0.001)

	assert.Equal(t, "/ingest_and_predict", req.URL.Path)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "7", req.URL.Query().Get("days"))
	assert.Equal(t, "17.9757", req.URL.Query().Get("lat"))
	assert.InDelta(t, 102.6331, (*payload)["lon"], 0.0001)
}

func TestForecastClient_RowResponseTruncatedToDays(t *testing.T) {
	srv, _, _ := forecastServer(t, http.StatusOK, `{
		"success": true,
		"predictions": [
			{"date": "2026-03-11", "predicted_temperature": 30, "predicted_rainfall": 1},
			{"timestamp": "2026-03-12 00:00:00", "predicted_temperature": 31},
			{"date": "2026-03-13", "predicted_temperature": 32}
		]
	}`)
	client := service.NewForecastClient(srv.URL, 5*time.Second, zap.NewNop())

	samples, err := client.Forecast(context.Background(), forecastRequest(2))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "2026-03-12 00:00:00", samples[1].Time)
	assert.InDelta(t, 31, samples[1].Temperature, 0)
}

func TestForecastClient_SendsHistory(t *testing.T) {
	srv, _, payload := forecastServer(t, http.StatusOK, `{"status":"success","predictions":[{"date":"2026-03-11","predicted_temperature":30}]}`)
	client := service.NewForecastClient(srv.URL, 5*time.Second, zap.NewNop())

	req := forecastRequest(1)
	req.Historical = []domain.Observation{{Timestamp: testNow.Add(-time.Hour), Temperature: 29}}
	req.Context = &domain.WeatherContext{AvgTemperature: 29, RecordCount: 1}

	_, err := client.Forecast(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, true, (*payload)["use_historical"])
	history, ok := (*payload)["historical_data"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, "2026-03-10 07:00:00", history[0].(map[string]any)["timestamp"])
	assert.NotNil(t, (*payload)["weather_context"])
}

func TestForecastClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model not loaded"}`},
		{"error status", http.StatusOK, `{"status":"error","error":"bad input"}`},
		{"success false", http.StatusOK, `{"success":false,"error":"bad input"}`},
		{"missing predictions", http.StatusOK, `{"status":"success"}`},
		{"empty predictions", http.StatusOK, `{"status":"success","predictions":[]}`},
		{"mismatched columns", http.StatusOK, `{"status":"success","predictions":{"times":["a","b"],"temperatures":[1],"humidities":[1,2],"rainfalls":[1,2],"pressures":[1,2],"wind_speeds":[1,2]}}`},
		{"row without temperature", http.StatusOK, `{"status":"success","predictions":[{"date":"2026-03-11"}]}`},
		{"scalar predictions", http.StatusOK, `{"status":"success","predictions":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := forecastServer(t, tt.status, tt.body)
			client := service.NewForecastClient(srv.URL, 5*time.Second, zap.NewNop())

			_, err := client.Forecast(context.Background(), forecastRequest(7))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrForecastSource)
		})
	}
}

func TestForecastClient_Unreachable(t *testing.T) {
	client := service.NewForecastClient("http://127.0.0.1:1", time.Second, zap.NewNop())
	_, err := client.Forecast(context.Background(), forecastRequest(7))
	assert.ErrorIs(t, err, domain.ErrForecastSource)
	assert.Error(t, client.Health(context.Background()))
}

func TestForecastClient_Health(t *testing.T) {
	srv, req, _ := forecastServer(t, http.StatusOK, `{"status":"healthy"}`)
	client := service.NewForecastClient(srv.URL, time.Second, zap.NewNop())

	require.NoError(t, client.Health(context.Background()))
	assert.Equal(t, "/health", req.URL.Path)
}
