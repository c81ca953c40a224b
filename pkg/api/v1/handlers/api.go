// Package handlers provides HTTP request handlers for the API
package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/virtfleet/virtfleet/internal/services"
	"github.com/virtfleet/virtfleet/internal/types"
)

// APIHandler bundles the services the API exposes
type APIHandler struct {
	lifecycle  *services.Lifecycle
	heartbeat  *services.Heartbeat
	dispatcher *services.HaltDispatcher
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(lifecycle *services.Lifecycle, heartbeat *services.Heartbeat, dispatcher *services.HaltDispatcher) *APIHandler {
	return &APIHandler{
		lifecycle:  lifecycle,
		heartbeat:  heartbeat,
		dispatcher: dispatcher,
	}
}

// statusForError maps engine errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownInstance), errors.Is(err, types.ErrUnknownHandle):
		return fiber.StatusNotFound
	case errors.Is(err, types.ErrDuplicateHandle), errors.Is(err, types.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, types.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, types.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError renders an engine error in the uniform failure shape
func respondError(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(types.ErrFromError(err))
}
