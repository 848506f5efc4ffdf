package middlewares

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"disputeflow-backend/services"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
// The services error taxonomy maps onto statuses here; handlers just return
// errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// 1) Fiber errors (use their status code + message)
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// 2) Validation errors (422 + per-field info)
	if ve, ok := err.(validator.ValidationErrors); ok {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// 3) Domain error taxonomy
	var te *services.InvalidTransitionError
	if errors.As(err, &te) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message":   te.Error(),
			"current":   te.Current,
			"requested": te.Requested,
		})
	}
	var vde *services.ValidationError
	if errors.As(err, &vde) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": vde.Error()})
	}
	var pr *services.PendingRenderError
	if errors.As(err, &pr) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"message": pr.Error(),
			"status":  "pending_render",
		})
	}
	if services.IsAuthError(err) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": err.Error()})
	}
	if services.IsConflict(err) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
	}
	var ee *services.ExternalServiceError
	if errors.As(err, &ee) {
		log.Printf("upstream error: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"message": "upstream provider error",
			"service": ee.Service,
		})
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "not found"})
	}

	// 4) Unknown errors (500)
	log.Printf("internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}
