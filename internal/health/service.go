package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"enricher/internal/logger"
	"enricher/internal/platform/postgres"
	"enricher/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// HealthHandler reports readiness and the state of backing services.
type HealthHandler struct {
	log       *logger.Logger
	redisSvc  *redis.Service
	pgClient  *postgres.Client
	startTime time.Time
	isReady   bool
}

func NewHealthHandler(redisSvc *redis.Service, pgClient *postgres.Client) *HealthHandler {
	return &HealthHandler{
		log:       logger.New("HealthCheck"),
		redisSvc:  redisSvc,
		pgClient:  pgClient,
		startTime: time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic.
func (h *HealthHandler) SetReady() {
	h.isReady = true
	h.log.LogInfof("Application ready for traffic after %v", time.Since(h.startTime))
}

type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HandleHealth probes redis and postgres concurrently and reports overall
// status.
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allOk := true

	check := func(name string, fn func(context.Context) error) {
		defer wg.Done()
		status := ComponentStatus{Status: "ok"}
		if err := fn(ctx); err != nil {
			status = ComponentStatus{Status: "error", Error: err.Error()}
			h.log.LogErrorf("health check failed for %s: %v", name, err)
		}
		mu.Lock()
		statuses[name] = status
		if status.Status != "ok" {
			allOk = false
		}
		mu.Unlock()
	}

	wg.Add(2)
	go check("redis", h.redisSvc.HealthCheck)
	go check("postgres", h.pgClient.HealthCheck)
	wg.Wait()

	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.isReady,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}

	if allOk && h.isReady {
		response.OverallStatus = "ok"
		return c.Status(http.StatusOK).JSON(response)
	}
	if !h.isReady {
		response.OverallStatus = "starting"
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}
	response.OverallStatus = "error"
	return c.Status(http.StatusServiceUnavailable).JSON(response)
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
