package job

import (
	"errors"

	"enricher/internal/store"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type createRequest struct {
	Type      string   `json:"type"`
	ProfileID string   `json:"profile_id"`
	URLs      []string `json:"urls"`
	ScanRoot  string   `json:"scan_root"`
	Deep      bool     `json:"deep"`
}

type stopRequest struct {
	DeleteData bool `json:"delete_data"`
}

func errJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// HandleCreate accepts a job spec and enqueues it.
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "invalid body")
	}
	jobType := Type(req.Type)
	if req.Type == "" {
		jobType = TypeBulkExtract
	}
	j, err := h.svc.Submit(c.Context(), jobType, Params{
		ProfileID: req.ProfileID,
		URLs:      req.URLs,
		ScanRoot:  req.ScanRoot,
		Deep:      req.Deep,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidSpec) {
			return errJSON(c, fiber.StatusBadRequest, err.Error())
		}
		return errJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  j.ID,
		"status":  j.Status,
	})
}

// HandleGet returns one job with live counters.
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	j, err := h.svc.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errJSON(c, fiber.StatusNotFound, "not_found")
		}
		return errJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job": j})
}

// HandleListActive returns every non-terminal job.
func (h *Handler) HandleListActive(c *fiber.Ctx) error {
	jobs, err := h.svc.ListActive(c.Context())
	if err != nil {
		return errJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return c.JSON(fiber.Map{"success": true, "jobs": jobs})
}

// HandleStop requests cooperative cancellation, optionally purging data.
func (h *Handler) HandleStop(c *fiber.Ctx) error {
	var req stopRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errJSON(c, fiber.StatusBadRequest, "invalid body")
		}
	}
	if err := h.svc.RequestStop(c.Context(), c.Params("jobId"), req.DeleteData); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errJSON(c, fiber.StatusNotFound, "not_found")
		}
		return errJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true})
}

// HandleDelete removes a job and everything it staged or promoted.
func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	if err := h.svc.Purge(c.Context(), c.Params("jobId")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errJSON(c, fiber.StatusNotFound, "not_found")
		}
		return errJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}
