package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// toHTTPError maps domain errors onto status codes. Unclassified errors are
// logged and reported with the generic fallback message.
func (h *Handler) toHTTPError(err error, fallback string) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrForecastSource):
		h.logger.Warn(fallback, zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, fallback)
	default:
		h.logger.Error(fallback, zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}
