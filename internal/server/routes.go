package server

import (
	"enricher/internal/core/catalog"
	"enricher/internal/core/job"
	"enricher/internal/core/scan"
	"enricher/internal/health"
	"enricher/internal/platform/postgres"
	"enricher/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Job      *job.Service
	Scan     *scan.Service
	Catalog  *catalog.Handler
	Redis    *redis.Service
	Postgres *postgres.Client
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Redis, d.Postgres)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	jobHandler := job.NewHandler(d.Job)
	api.Post("/jobs", jobHandler.HandleCreate)
	api.Get("/jobs/active", jobHandler.HandleListActive)
	api.Get("/jobs/:jobId", jobHandler.HandleGet)
	api.Post("/jobs/:jobId/stop", jobHandler.HandleStop)
	api.Delete("/jobs/:jobId", jobHandler.HandleDelete)

	scanHandler := scan.NewHandler(d.Scan, d.Redis)
	api.Post("/scan-structure", scanHandler.HandleScan)

	api.Get("/catalog/products", d.Catalog.HandleList)

	return healthHandler
}
