package handlers

import (
	"fmt"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/virtfleet/virtfleet/internal/db/models"
)

// DefaultPageSize is the default number of items per page
const DefaultPageSize = models.DefaultLimit

// getListOptions builds ListOptions from the request's query parameters
func getListOptions(c *fiber.Ctx) (*models.ListOptions, error) {
	opts := &models.ListOptions{
		Limit:         c.QueryInt("limit", DefaultPageSize),
		Offset:        c.QueryInt("offset", 0),
		IncludeClosed: c.QueryBool("include_closed", false),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status, err := models.ParseInstanceStatus(statusStr)
		if err != nil {
			return nil, fmt.Errorf("invalid instance status: %v", err)
		}
		opts.Status = &status
	}

	return opts, nil
}
