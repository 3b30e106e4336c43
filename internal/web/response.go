package web

import (
	"github.com/gofiber/fiber/v2"
)

func ErrorResponse(c *fiber.Ctx, code int, status string, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// errorHandler renders errors that escape a handler in the same shape.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	status := "INTERNAL"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		status = "REQUEST_FAILED"
		if code == fiber.StatusNotFound {
			status = "NOT_FOUND"
		}
	}
	return ErrorResponse(c, code, status, err.Error())
}
