package handlers

import (
	"fmt"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/virtfleet/virtfleet/internal/api/v1/middleware"
	"github.com/virtfleet/virtfleet/internal/constants"
	"github.com/virtfleet/virtfleet/internal/db/models"
	"github.com/virtfleet/virtfleet/internal/types"
)

// ListInstances handles the request to list instances with filtering and
// pagination. Halted instances are excluded unless include_closed is set
// or an explicit status filter asks for them.
func (h *APIHandler) ListInstances(c *fiber.Ctx) error {
	opts, err := getListOptions(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	instances, err := h.lifecycle.ListInstances(c.Context(), opts)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(types.ListResponse[models.Instance]{
		Rows: instances,
		Pagination: types.PaginationResponse{
			Total:  len(instances),
			Limit:  opts.Limit,
			Offset: opts.Offset,
		},
	})
}

// GetInstance returns details of a specific instance
func (h *APIHandler) GetInstance(c *fiber.Ctx) error {
	instanceID, err := c.ParamsInt("id")
	if err != nil || instanceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput("instance id must be a positive integer"))
	}

	instance, err := h.lifecycle.GetInstance(c.Context(), uint(instanceID))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(instance)
}

// GetInstancesByStatus returns all instances currently in the given status
func (h *APIHandler) GetInstancesByStatus(c *fiber.Ctx) error {
	status, err := models.ParseInstanceStatus(c.Params("status"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	instances, err := h.lifecycle.ListByStatus(c.Context(), status)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(types.ListResponse[models.Instance]{
		Rows: instances,
		Pagination: types.PaginationResponse{
			Total: len(instances),
			Limit: len(instances),
		},
	})
}

// GetInstanceHistory returns the full status audit trail of an instance
func (h *APIHandler) GetInstanceHistory(c *fiber.Ctx) error {
	instanceID, err := c.ParamsInt("id")
	if err != nil || instanceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput("instance id must be a positive integer"))
	}

	entries, err := h.lifecycle.History(c.Context(), uint(instanceID))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(types.ListResponse[models.HistoryEntry]{
		Rows: entries,
		Pagination: types.PaginationResponse{
			Total: len(entries),
			Limit: len(entries),
		},
	})
}

// GetInstanceByHandle returns all info for a backend handle
func (h *APIHandler) GetInstanceByHandle(c *fiber.Ctx) error {
	handle := c.Params("handle")
	if handle == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput("handle is required"))
	}

	instance, err := h.lifecycle.GetByHandle(c.Context(), handle)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(instance)
}

// GetInstanceCounters returns instance counts grouped by a field
func (h *APIHandler) GetInstanceCounters(c *fiber.Ctx) error {
	groupField := c.Query("group_by", "status")

	opts, err := getListOptions(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	counts, err := h.lifecycle.Counters(c.Context(), groupField, opts)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	rows := make([]types.CounterRow, 0, len(counts))
	for _, count := range counts {
		value := count.Value
		if groupField == models.InstanceStatusField {
			// the status column stores the numeric enum
			if n, convErr := strconv.Atoi(value); convErr == nil {
				value = models.InstanceStatus(n).String()
			}
		}
		rows = append(rows, types.CounterRow{Value: value, Count: count.Count})
	}

	return c.JSON(fiber.Map{"counters": rows})
}

// GetRunningHistory returns time-bucketed aggregates of instances that
// entered Running, optionally grouped by endpoint, image or running pod
func (h *APIHandler) GetRunningHistory(c *fiber.Ctx) error {
	timespan := time.Duration(c.QueryInt("timespan_seconds", 86400)) * time.Second
	bucket := time.Duration(c.QueryInt("bucket_seconds", 3600)) * time.Second
	groupField := c.Query("group_by", "")

	buckets, err := h.lifecycle.RunningHistory(c.Context(), timespan, bucket, groupField)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}

	rows := make([]types.HistoryBucket, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, types.HistoryBucket{
			Bucket: b.Bucket.UTC().Format(time.RFC3339),
			Group:  b.Group,
			Count:  b.Count,
			Load:   b.Load,
		})
	}

	return c.JSON(fiber.Map{"buckets": rows})
}

// StopInstances handles a caller-initiated stop of a set of instances.
// Requires the management capability. The response always carries the
// per-instance successful/failed breakdown.
func (h *APIHandler) StopInstances(c *fiber.Ctx) error {
	if !middleware.HasCapability(c, constants.CapabilityWebOperation) {
		return respondError(c, fmt.Errorf("%w: stop requires %s", types.ErrUnauthorized, constants.CapabilityWebOperation))
	}

	var req types.StopRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput(err.Error()))
	}
	if len(req.InstanceIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrInvalidInput("instance_ids is required"))
	}

	result := h.dispatcher.RequestStop(c.Context(), req.InstanceIDs)
	return c.JSON(result)
}
