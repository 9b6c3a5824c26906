package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	delivery "github.com/laoweather/backend/internal/delivery/http"
	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
	"github.com/laoweather/backend/internal/repository/postgres"
	"github.com/laoweather/backend/internal/scheduler"
	"github.com/laoweather/backend/internal/service"
)

var testNow = time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)

type stubSource struct{}

func (stubSource) Forecast(_ context.Context, req domain.ForecastRequest) ([]domain.ForecastSample, error) {
	if req.Lat == 0 {
		return nil, domain.ErrForecastSource
	}
	return []domain.ForecastSample{
		{Time: "2026-03-11", Temperature: 31},
		{Time: "2026-03-12", Temperature: 29},
	}, nil
}

type stubJobs struct {
	mu      sync.Mutex
	ran     []string
	running bool
}

func (j *stubJobs) RunNow(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ran = append(j.ran, name)
	return nil
}

func (j *stubJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: scheduler.JobForecastIngestion, Spec: "0 * * * *", Running: j.running}}
}

func (j *stubJobs) Running() bool { return true }

func (j *stubJobs) ranJobs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ran...)
}

type testServer struct {
	app  *fiber.App
	repo *postgres.MockRepository
	jobs *stubJobs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := postgres.NewMockRepository()
	clock := clockwork.NewFakeClockAt(testNow)
	metrics := observability.NewMetricsForTesting()
	logger := zap.NewNop()

	buffer := service.NewAlertBuffer(metrics)
	dispatcher := service.NewAlertDispatcher(repo, buffer, nil, clock, logger, metrics, 2*time.Hour)
	sweeper := service.NewAlertSweeper(repo, service.NewEvaluator(domain.DefaultThresholds()), dispatcher,
		service.NewLocalLocker(), clock, logger, 72*time.Hour)
	feed := service.NewNotificationFeed(repo, buffer, sweeper, nil, clock, logger, service.FeedConfig{Window: 50})
	ingestor := service.NewForecastIngestor(stubSource{}, repo, clock, logger, metrics,
		service.IngestionConfig{Horizon: 7, Retention: 7 * 24 * time.Hour})

	jobs := &stubJobs{}
	app := fiber.New(fiber.Config{ErrorHandler: delivery.ErrorHandler})
	delivery.SetupRoutes(app, delivery.NewHandler(feed, ingestor, jobs, repo, nil, logger))
	return &testServer{app: app, repo: repo, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "data is not an object: %v", body)
	return d
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	s.repo.SetHealthError(errors.New("connection refused"))
	_, body = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotificationLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/notifications",
		`{"type":"info","title":"Road closed","message":"Route 13 north","priority":"HIGH"}`)
	require.Equal(t, http.StatusCreated, code)
	id := data(t, body)["id"].(string)
	assert.True(t, strings.HasPrefix(id, "db_"))
	assert.Equal(t, "High", data(t, body)["priority"])

	code, body = s.do(t, http.MethodGet, "/api/notifications?type=INFO&page=1&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	page := data(t, body)
	assert.Len(t, page["notifications"], 1)
	assert.EqualValues(t, 1, page["pagination"].(map[string]any)["total"])
	assert.EqualValues(t, 1, page["stats"].(map[string]any)["unread"])

	_, body = s.do(t, http.MethodGet, "/api/notifications/count", "")
	assert.EqualValues(t, 1, data(t, body)["count"])

	code, _ = s.do(t, http.MethodPut, "/api/notifications/"+id+"/read", "")
	assert.Equal(t, http.StatusOK, code)
	_, body = s.do(t, http.MethodGet, "/api/notifications/count", "")
	assert.EqualValues(t, 0, data(t, body)["count"])

	code, _ = s.do(t, http.MethodDelete, "/api/notifications/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	code, body = s.do(t, http.MethodDelete, "/api/notifications/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, true, body["error"])
}

func TestListNotificationsIncludesSystemAlerts(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodGet, "/api/notifications", "")
	assert.Empty(t, data(t, body)["notifications"])

	code, body := s.do(t, http.MethodGet, "/api/notifications?includeSystemNotifications=true", "")
	require.Equal(t, http.StatusOK, code)
	var ids []string
	for _, item := range data(t, body)["notifications"].([]any) {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	assert.Contains(t, ids, "system_health")
}

func TestNotificationValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"missing title", http.MethodPost, "/api/notifications", `{"type":"info","message":"m"}`, http.StatusBadRequest},
		{"bad priority", http.MethodPost, "/api/notifications", `{"type":"info","title":"t","message":"m","priority":"urgent"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/notifications", `{"type":`, http.StatusBadRequest},
		{"unknown db id", http.MethodDelete, "/api/notifications/db_42", "", http.StatusNotFound},
		{"unknown buffer id", http.MethodDelete, "/api/notifications/weather_7", "", http.StatusNotFound},
		{"unparseable id", http.MethodDelete, "/api/notifications/whatever", "", http.StatusBadRequest},
		{"mark unknown", http.MethodPut, "/api/notifications/db_42/read", "", http.StatusNotFound},
		{"clear-old negative", http.MethodDelete, "/api/notifications/clear-old?hours=-1", "", http.StatusBadRequest},
		{"weather alert unknown city", http.MethodPost, "/api/notifications/weather-alerts",
			`{"cityId":999,"alertType":"flood","severity":"critical","title":"t","message":"m"}`, http.StatusNotFound},
		{"weather alert missing fields", http.MethodPost, "/api/notifications/weather-alerts", `{"cityId":1}`, http.StatusBadRequest},
		{"delete unknown weather alert", http.MethodDelete, "/api/notifications/weather-alerts/manual_x", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestWeatherAlertsEndpoints(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.repo.SaveObservation(context.Background(),
		domain.Observation{CityID: 1, Timestamp: testNow, Temperature: 38, Pressure: 1013}))

	code, body := s.do(t, http.MethodGet, "/api/notifications/weather-alerts", "")
	require.Equal(t, http.StatusOK, code)
	d := data(t, body)
	alerts := d["alerts"].([]any)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Extreme heat warning - Vientiane", alerts[0].(map[string]any)["title"])
	assert.EqualValues(t, 1, d["stats"].(map[string]any)["high"])

	code, body = s.do(t, http.MethodPost, "/api/notifications/weather-alerts",
		`{"cityId":3,"alertType":"flood","severity":"warning","title":"Mekong rising","message":"m","recommendations":["Move to higher ground"]}`)
	require.Equal(t, http.StatusCreated, code)
	manualID := data(t, body)["id"].(string)
	assert.True(t, strings.HasPrefix(manualID, "manual_"))

	_, body = s.do(t, http.MethodGet, "/api/notifications/active", "")
	assert.EqualValues(t, 2, body["count"])

	code, _ = s.do(t, http.MethodDelete, "/api/notifications/weather-alerts/"+manualID, "")
	assert.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodDelete, "/api/notifications/clear-manual-alerts", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(t, body)["cleared"])

	_, body = s.do(t, http.MethodGet, "/api/notifications", "")
	assert.EqualValues(t, 1, data(t, body)["pagination"].(map[string]any)["total"])
}

func TestBulkEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, title := range []string{"a", "b"} {
		code, _ := s.do(t, http.MethodPost, "/api/notifications", `{"type":"info","title":"`+title+`","message":"m"}`)
		require.Equal(t, http.StatusCreated, code)
	}

	_, body := s.do(t, http.MethodPut, "/api/notifications/read-all", "")
	assert.EqualValues(t, 2, data(t, body)["persisted"])

	_, body = s.do(t, http.MethodDelete, "/api/notifications/clear-old?hours=24", "")
	assert.EqualValues(t, 0, data(t, body)["persisted"])

	_, body = s.do(t, http.MethodDelete, "/api/notifications/clear-all", "")
	assert.EqualValues(t, 2, data(t, body)["persisted"])

	code, body := s.do(t, http.MethodPost, "/api/notifications/broadcast", `{"type":"warning","title":"Dam release","message":"m"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["published"])

	_, body = s.do(t, http.MethodGet, "/api/notifications/cities", "")
	assert.Len(t, body["data"], 18)
}

func TestForecastEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/lstm/predictions", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/api/lstm/predictions?cityId=999", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/api/lstm/predict", `{"cityId":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/api/lstm/predict", `{"cityId":1,"lat":0,"lon":0}`)
	assert.Equal(t, http.StatusBadGateway, code)

	code, body := s.do(t, http.MethodPost, "/api/lstm/predict", `{"cityId":1,"lat":17.9757,"lon":102.6331}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, data(t, body)["forecasts"])

	_, body = s.do(t, http.MethodGet, "/api/lstm/predictions?cityId=1&days=7", "")
	assert.EqualValues(t, 2, body["count"])

	_, body = s.do(t, http.MethodGet, "/api/lstm/status", "")
	status := data(t, body)
	assert.EqualValues(t, 2, status["totalPredictions"])
	assert.Equal(t, true, status["systemActive"])
	assert.Len(t, status["jobs"], 1)

	code, _ = s.do(t, http.MethodGet, "/api/lstm/historical?cityId=1&days=3", "")
	assert.Equal(t, http.StatusOK, code)

	_, body = s.do(t, http.MethodDelete, "/api/lstm/cleanup", "")
	assert.EqualValues(t, 0, data(t, body)["deleted"])
}

func TestRunAll(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/lstm/run-all", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Eventually(t, func() bool { return len(s.jobs.ranJobs()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{scheduler.JobForecastIngestion}, s.jobs.ranJobs())

	s.jobs.running = true
	code, _ = s.do(t, http.MethodPost, "/api/lstm/run-all", "")
	assert.Equal(t, http.StatusConflict, code)
}
