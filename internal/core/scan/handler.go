package scan

import (
	"fmt"
	"time"

	"enricher/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
)

const treeCacheTTL = 10 * time.Minute

// Handler serves synchronous structure scans. Results are cached briefly in
// redis since repeated previews of the same root are common while tuning a
// profile.
type Handler struct {
	svc   *Service
	redis *redis.Service
}

func NewHandler(svc *Service, r *redis.Service) *Handler {
	return &Handler{svc: svc, redis: r}
}

func (h *Handler) HandleScan(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "url is required"})
	}

	cacheKey := fmt.Sprintf("scan:%s:deep=%v", Normalize(req.URL), req.Deep)
	var cached Node
	if err := h.redis.CacheGet(c.Context(), cacheKey, &cached); err == nil {
		return c.JSON(fiber.Map{"success": true, "tree": &cached, "cached": true})
	}

	tree, err := h.svc.Scan(c.Context(), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	_ = h.redis.CacheSet(c.Context(), cacheKey, tree, treeCacheTTL)
	return c.JSON(fiber.Map{"success": true, "tree": tree})
}
