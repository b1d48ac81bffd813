// Package catalog exposes the committed product records over HTTP.
package catalog

import (
	"enricher/internal/store"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	catalog store.CatalogStore
}

func NewHandler(catalog store.CatalogStore) *Handler {
	return &Handler{catalog: catalog}
}

// HandleList returns a page of committed products, optionally filtered by
// profile.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	profileID := c.Query("profile_id")

	products, total, err := h.catalog.List(c.Context(), profileID, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	if products == nil {
		products = []store.Product{}
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"products": products,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}
