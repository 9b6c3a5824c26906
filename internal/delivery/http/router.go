package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler) {
	// Health check
	app.Get("/health", handler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	notifications := api.Group("/notifications")
	{
		notifications.Get("/", handler.ListNotifications)
		notifications.Get("/active", handler.ActiveNotifications)
		notifications.Get("/count", handler.CountNotifications)
		notifications.Get("/cities", handler.Cities)
		notifications.Get("/weather-alerts", handler.WeatherAlerts)

		notifications.Post("/", handler.CreateNotification)
		notifications.Post("/broadcast", handler.Broadcast)
		notifications.Post("/weather-alerts", handler.CreateWeatherAlert)
		notifications.Delete("/weather-alerts/:alertId", handler.DeleteWeatherAlert)

		notifications.Put("/read-all", handler.MarkAllRead)
		notifications.Put("/:id/read", handler.MarkRead)

		// Literal paths must be registered before /:id.
		notifications.Delete("/clear-manual-alerts", handler.ClearManualAlerts)
		notifications.Delete("/clear-old", handler.ClearOld)
		notifications.Delete("/clear-all", handler.ClearAll)
		notifications.Delete("/:id", handler.DeleteNotification)
	}

	lstm := api.Group("/lstm")
	{
		lstm.Get("/predictions", handler.Predictions)
		lstm.Get("/historical", handler.Historical)
		lstm.Get("/status", handler.Status)
		lstm.Post("/predict", handler.Predict)
		lstm.Post("/run-all", handler.RunAll)
		lstm.Delete("/cleanup", handler.Cleanup)
	}
}
