package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Respond writes body as JSON with status.
func Respond(c *fiber.Ctx, status int, body any) error {
	return c.Status(status).JSON(body)
}

// RespondError writes an ErrorResponse.
func RespondError(c *fiber.Ctx, status int, title, message string) error {
	return Respond(c, status, ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

// OK writes a 200 response.
func OK(c *fiber.Ctx, body any) error {
	return Respond(c, fiber.StatusOK, body)
}

// Created writes a 201 response.
func Created(c *fiber.Ctx, body any) error {
	return Respond(c, fiber.StatusCreated, body)
}

// BadRequestError writes a 400 response.
func BadRequestError(c *fiber.Ctx, title, message string) error {
	return RespondError(c, fiber.StatusBadRequest, title, message)
}

// NotFoundError writes a 404 response.
func NotFoundError(c *fiber.Ctx, title, message string) error {
	return RespondError(c, fiber.StatusNotFound, title, message)
}

// SimpleInternalServerError writes a 500 response with a generic message.
func SimpleInternalServerError(c *fiber.Ctx) error {
	return RespondError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}

// ServiceUnavailableError writes a 503 response with a generic message.
func ServiceUnavailableError(c *fiber.Ctx) error {
	return RespondError(c, fiber.StatusServiceUnavailable, "service_unavailable", "service unavailable")
}
