package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
	"github.com/laoweather/backend/internal/observability"
)

// AlertDispatcher deduplicates candidate alerts, persists new ones and mirrors
// them into the alert buffer.
type AlertDispatcher struct {
	alerts    domain.AlertRepository
	buffer    *AlertBuffer
	publisher domain.AlertPublisher // nil disables publishing
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	window    time.Duration
}

// NewAlertDispatcher wires the dispatcher. window is the dedup window.
func NewAlertDispatcher(alerts domain.AlertRepository, buffer *AlertBuffer, publisher domain.AlertPublisher,
	clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics, window time.Duration) *AlertDispatcher {
	return &AlertDispatcher{
		alerts:    alerts,
		buffer:    buffer,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		window:    window,
	}
}

// DispatchResult summarises one Dispatch call.
type DispatchResult struct {
	Created    []domain.Alert `json:"created"`
	Suppressed int            `json:"suppressed"`
	Failed     int            `json:"failed"`
}

// Dispatch handles drafts in order. A draft whose type and title was stored
// within the dedup window is dropped. Storage failures do not stop the
// remaining drafts; they are joined into the returned error.
func (d *AlertDispatcher) Dispatch(ctx context.Context, drafts []domain.AlertDraft) (DispatchResult, error) {
	var (
		res  DispatchResult
		errs []error
	)
	for _, draft := range drafts {
		alert := domain.FromDraft(draft, d.clock.Now())
		stored, created, err := d.alerts.InsertAlertIfAbsent(ctx, alert, d.window)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("dispatcher: %q: %w", draft.Title, err))
			continue
		}
		if !created {
			res.Suppressed++
			d.metrics.AlertsSuppressed.Inc()
			continue
		}

		mirror := stored
		mirror.ID = NewBufferID(domain.PrefixWeather)
		d.buffer.Append(mirror)
		d.metrics.AlertsCreated.WithLabelValues(stored.Type).Inc()
		d.publish(ctx, stored)

		res.Created = append(res.Created, stored)
		d.logger.Info("alert created",
			zap.String("id", stored.ID),
			zap.String("type", stored.Type),
			zap.String("priority", string(stored.Priority)),
			zap.String("title", stored.Title),
		)
	}
	return res, errors.Join(errs...)
}

func (d *AlertDispatcher) publish(ctx context.Context, alert domain.Alert) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishAlert(ctx, alert); err != nil {
		d.metrics.AlertsPublished.WithLabelValues("error").Inc()
		d.logger.Warn("alert publish failed", zap.String("id", alert.ID), zap.Error(err))
		return
	}
	d.metrics.AlertsPublished.WithLabelValues("success").Inc()
}
