package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
	"github.com/laoweather/backend/internal/repository/postgres"
	"github.com/laoweather/backend/internal/service"
)

var testNow = time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)

// --- fakes ---

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Alert
	err       error
}

func (p *recordingPublisher) PublishAlert(_ context.Context, alert domain.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, alert)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// --- harness ---

type harness struct {
	repo       *postgres.MockRepository
	clock      *clockwork.FakeClock
	metrics    *observability.Metrics
	buffer     *service.AlertBuffer
	publisher  *recordingPublisher
	dispatcher *service.AlertDispatcher
	sweeper    *service.AlertSweeper
	feed       *service.NotificationFeed
}

func newHarness(t *testing.T, cfg service.FeedConfig) *harness {
	t.Helper()
	h := &harness{
		repo:      postgres.NewMockRepository(),
		clock:     clockwork.NewFakeClockAt(testNow),
		metrics:   observability.NewMetricsForTesting(),
		publisher: &recordingPublisher{},
	}
	logger := zap.NewNop()
	h.buffer = service.NewAlertBuffer(h.metrics)
	h.dispatcher = service.NewAlertDispatcher(h.repo, h.buffer, h.publisher, h.clock, logger, h.metrics, 2*time.Hour)
	h.sweeper = service.NewAlertSweeper(h.repo, service.NewEvaluator(domain.DefaultThresholds()), h.dispatcher,
		service.NewLocalLocker(), h.clock, logger, 72*time.Hour)
	h.feed = service.NewNotificationFeed(h.repo, h.buffer, h.sweeper, h.publisher, h.clock, logger, cfg)
	return h
}

func (h *harness) observe(t *testing.T, obs domain.Observation) {
	t.Helper()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = h.clock.Now()
	}
	if obs.Pressure == 0 {
		obs.Pressure = domain.DefaultPressure
	}
	if obs.Temperature == 0 {
		obs.Temperature = 25
	}
	require.NoError(t, h.repo.SaveObservation(context.Background(), obs))
}

func (h *harness) storeAlert(t *testing.T, alert domain.Alert) domain.Alert {
	t.Helper()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = h.clock.Now()
	}
	stored, err := h.repo.CreateAlert(context.Background(), alert)
	require.NoError(t, err)
	return stored
}

func float(v float64) *float64 { return &v }
