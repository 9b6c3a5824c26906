package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/scheduler"
	"github.com/laoweather/backend/internal/service"
	"github.com/laoweather/backend/pkg/utils"
)

const (
	defaultDays = 7
	maxDays     = 30
)

// HealthChecker is anything with a connectivity probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// JobRunner triggers and lists scheduled jobs.
type JobRunner interface {
	RunNow(name string) error
	Jobs() []scheduler.JobStatus
	Running() bool
}

// Handler contains all HTTP handlers
type Handler struct {
	feed     *service.NotificationFeed
	ingestor *service.ForecastIngestor
	jobs     JobRunner
	database HealthChecker
	forecast HealthChecker
	logger   *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(feed *service.NotificationFeed, ingestor *service.ForecastIngestor, jobs JobRunner,
	database, forecast HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		feed:     feed,
		ingestor: ingestor,
		jobs:     jobs,
		database: database,
		forecast: forecast,
		logger:   logger,
	}
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	ctx := c.UserContext()
	status := "ok"
	checks := fiber.Map{}

	for name, checker := range map[string]HealthChecker{"database": h.database, "forecastService": h.forecast} {
		if checker == nil {
			continue
		}
		if err := checker.Health(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	if h.jobs != nil {
		checks["scheduler"] = h.jobs.Running()
	}

	return c.JSON(fiber.Map{
		"status":  status,
		"service": "laoweather-backend",
		"version": "1.0.0",
		"checks":  checks,
	})
}

// --- notifications ---

// ListNotifications returns a filtered page of the merged notification feed.
func (h *Handler) ListNotifications(c *fiber.Ctx) error {
	res, err := h.feed.List(c.UserContext(), service.ListFilter{
		Type:          c.Query("type"),
		Priority:      c.Query("priority"),
		Status:        c.Query("status"),
		Search:        c.Query("search"),
		Page:          c.QueryInt("page", 1),
		Limit:         c.QueryInt("limit", 10),
		IncludeSystem: c.QueryBool("includeSystemNotifications", false),
	})
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch notifications")
	}
	return ok(c, res)
}

// ActiveNotifications returns alerts from the last 24 hours.
func (h *Handler) ActiveNotifications(c *fiber.Ctx) error {
	alerts, err := h.feed.Active(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch active notifications")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    alerts,
		"count":   len(alerts),
	})
}

// CountNotifications returns the unread count.
func (h *Handler) CountNotifications(c *fiber.Ctx) error {
	n, err := h.feed.Count(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to count notifications")
	}
	return ok(c, fiber.Map{"count": n})
}

// WeatherAlerts runs an alert sweep and returns the top weather alerts.
func (h *Handler) WeatherAlerts(c *fiber.Ctx) error {
	res, err := h.feed.WeatherAlerts(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch weather alerts")
	}
	return ok(c, res)
}

// CreateNotification stores an administrator notification.
func (h *Handler) CreateNotification(c *fiber.Ctx) error {
	var in service.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	alert, err := h.feed.Create(c.UserContext(), in)
	if err != nil {
		return h.toHTTPError(err, "Failed to create notification")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": alert})
}

// Broadcast stores a notification and fans it out to subscribers.
func (h *Handler) Broadcast(c *fiber.Ctx) error {
	var in service.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	alert, err := h.feed.Broadcast(c.UserContext(), in)
	if err != nil {
		if alert.ID != "" {
			h.logger.Warn("broadcast stored but not published", zap.String("id", alert.ID), zap.Error(err))
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "data": alert, "published": false})
		}
		return h.toHTTPError(err, "Failed to broadcast notification")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": alert, "published": true})
}

// CreateWeatherAlert adds a manual weather alert for a city.
func (h *Handler) CreateWeatherAlert(c *fiber.Ctx) error {
	var in service.WeatherAlertInput
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	alert, err := h.feed.CreateWeatherAlert(c.UserContext(), in)
	if err != nil {
		return h.toHTTPError(err, "Failed to create weather alert")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": alert})
}

// DeleteWeatherAlert removes a manual weather alert.
func (h *Handler) DeleteWeatherAlert(c *fiber.Ctx) error {
	if err := h.feed.DeleteWeatherAlert(c.UserContext(), c.Params("alertId")); err != nil {
		return h.toHTTPError(err, "Failed to delete weather alert")
	}
	return c.JSON(fiber.Map{"success": true})
}

// Cities lists alert target cities.
func (h *Handler) Cities(c *fiber.Ctx) error {
	cities, err := h.feed.Cities(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch cities")
	}
	return ok(c, cities)
}

// MarkRead marks one notification read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	if err := h.feed.MarkRead(c.UserContext(), c.Params("id")); err != nil {
		return h.toHTTPError(err, "Failed to update notification")
	}
	return c.JSON(fiber.Map{"success": true})
}

// MarkAllRead marks every notification read.
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	res, err := h.feed.MarkAllRead(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to update notifications")
	}
	return ok(c, res)
}

// DeleteNotification removes one notification from whichever store holds it.
func (h *Handler) DeleteNotification(c *fiber.Ctx) error {
	if err := h.feed.Delete(c.UserContext(), c.Params("id")); err != nil {
		return h.toHTTPError(err, "Failed to delete notification")
	}
	return c.JSON(fiber.Map{"success": true})
}

// ClearManualAlerts empties the in-process buffer.
func (h *Handler) ClearManualAlerts(c *fiber.Ctx) error {
	return ok(c, fiber.Map{"cleared": h.feed.ClearBuffer()})
}

// ClearOld purges notifications older than ?hours (default 24).
func (h *Handler) ClearOld(c *fiber.Ctx) error {
	res, err := h.feed.ClearOld(c.UserContext(), c.QueryInt("hours", 24))
	if err != nil {
		return h.toHTTPError(err, "Failed to clear notifications")
	}
	return ok(c, res)
}

// ClearAll purges every notification.
func (h *Handler) ClearAll(c *fiber.Ctx) error {
	res, err := h.feed.ClearAll(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to clear notifications")
	}
	return ok(c, res)
}

// --- forecasts ---

func (h *Handler) cityAndDays(c *fiber.Ctx) (int64, int, error) {
	cityID := c.QueryInt("cityId", 0)
	if cityID <= 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "cityId is required")
	}
	return int64(cityID), utils.Clamp(c.QueryInt("days", defaultDays), 1, maxDays), nil
}

// Predictions returns stored forecast points for a city.
func (h *Handler) Predictions(c *fiber.Ctx) error {
	cityID, days, err := h.cityAndDays(c)
	if err != nil {
		return err
	}
	points, err := h.ingestor.Predictions(c.UserContext(), cityID, days)
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch predictions")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    points,
		"count":   len(points),
	})
}

// Historical returns recent observations and summary statistics for a city.
func (h *Handler) Historical(c *fiber.Ctx) error {
	cityID, days, err := h.cityAndDays(c)
	if err != nil {
		return err
	}
	history, err := h.ingestor.History(c.UserContext(), cityID, days)
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch weather history")
	}
	return ok(c, history)
}

type predictRequest struct {
	CityID int64    `json:"cityId"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
}

// Predict runs forecast ingestion for one city now.
func (h *Handler) Predict(c *fiber.Ctx) error {
	var req predictRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.CityID <= 0 || req.Lat == nil || req.Lon == nil {
		return fiber.NewError(fiber.StatusBadRequest, "cityId, lat and lon are required")
	}
	res, err := h.ingestor.PredictCity(c.UserContext(), req.CityID, *req.Lat, *req.Lon)
	if err != nil {
		return h.toHTTPError(err, "Failed to get prediction")
	}
	return ok(c, res)
}

// RunAll starts a forecast run for every city in the background.
func (h *Handler) RunAll(c *fiber.Ctx) error {
	if h.jobs == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Scheduler is not running")
	}
	for _, j := range h.jobs.Jobs() {
		if j.Name == scheduler.JobForecastIngestion && j.Running {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"message": "Forecast run already in progress",
			})
		}
	}
	go func() {
		if err := h.jobs.RunNow(scheduler.JobForecastIngestion); err != nil {
			h.logger.Error("manual forecast run failed", zap.Error(err))
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Forecast run started",
	})
}

// Cleanup deletes forecast points past the retention period.
func (h *Handler) Cleanup(c *fiber.Ctx) error {
	n, err := h.ingestor.Cleanup(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to clean up predictions")
	}
	return ok(c, fiber.Map{"deleted": n})
}

// Status reports stored forecast counts and scheduled jobs.
func (h *Handler) Status(c *fiber.Ctx) error {
	status, err := h.ingestor.Status(c.UserContext())
	if err != nil {
		return h.toHTTPError(err, "Failed to fetch status")
	}
	var jobs []scheduler.JobStatus
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
		status.SystemActive = h.jobs.Running()
	}
	return ok(c, fiber.Map{
		"todayPredictions": status.Today,
		"totalPredictions": status.Total,
		"latestPrediction": status.Latest,
		"systemActive":     status.SystemActive,
		"jobs":             jobs,
	})
}
