package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/api/dto"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/validator"
)

// sendError sends an error response
func sendError(c *fiber.Ctx, err error) error {
	statusCode := errors.GetStatusCode(err)
	return c.Status(statusCode).JSON(dto.ErrorResponse{
		Error: err.Error(),
	})
}

// sendValidationError sends a validation error response
func sendValidationError(c *fiber.Ctx, errs []validator.ValidationError) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:   "validation failed",
		Details: errs,
	})
}
