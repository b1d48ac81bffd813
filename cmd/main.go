package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/config"
	"enricher/internal/core/catalog"
	"enricher/internal/core/commit"
	"enricher/internal/core/extract"
	"enricher/internal/core/job"
	"enricher/internal/core/pool"
	"enricher/internal/core/scan"
	"enricher/internal/core/session"
	"enricher/internal/logger"
	pg "enricher/internal/platform/postgres"
	rds "enricher/internal/platform/redis"
	"enricher/internal/platform/tasks"
	"enricher/internal/server"
	pgstore "enricher/internal/storage/postgres"
	"enricher/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[enricher] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")
	ctx := context.Background()

	// Redis: queue broker and response caches
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Postgres: jobs, staging and catalog
	pgClient, err := pg.New(ctx, pg.Options{DSN: cfg.PostgresDSN})
	if err != nil {
		log.Fatal(err)
	}
	defer pgClient.Close()
	if err := pgstore.InitSchema(ctx, pgClient); err != nil {
		log.Fatal(err)
	}

	jobStore := pgstore.NewJobStore(pgClient)
	stagingStore := pgstore.NewStagingStore(pgClient)
	catalogStore := pgstore.NewCatalogStore(pgClient)
	profileStore := pgstore.NewProfileStore(pgClient)
	credStore := pgstore.NewCredentialStore(pgClient)

	// Asynq client and task server
	taskClient := tasks.New(redisSvc)
	taskServer := worker.NewServer(redisSvc.AsynqRedisOpt(), cfg.WorkerConcurrency)

	// Core services
	sessionMgr := session.NewManager(credStore, cfg.CredentialKey, time.Duration(cfg.LoginTimeoutMs)*time.Millisecond)
	defer sessionMgr.Close()

	extractSvc := extract.NewService(time.Duration(cfg.NavTimeoutMs) * time.Millisecond)
	scanSvc := scan.NewService()
	commitSvc := commit.NewService(stagingStore, catalogStore)
	workerPool := pool.New(cfg.PoolWidth, pool.NewDomainLimiter(cfg.DomainRPS, cfg.DomainBurst))

	jobSvc := job.NewService(jobStore, stagingStore, catalogStore, profileStore,
		taskClient, workerPool, extractSvc, sessionMgr, scanSvc, commitSvc,
		job.Options{
			FailureThreshold: cfg.FailureThreshold,
			CommitOnStop:     cfg.CommitOnStop,
			TaskMaxRetries:   cfg.TaskMaxRetries,
		})

	taskServer.HandleFunc(tasks.TaskTypeBulkExtract, jobSvc.HandleBulkTask)
	taskServer.HandleFunc(tasks.TaskTypeStructureScan, jobSvc.HandleScanTask)
	if err := taskServer.Start(); err != nil {
		log.Fatalf("task server: %v", err)
	}

	// Jobs interrupted by a previous shutdown resume from durable state.
	if err := jobSvc.ResumeActive(ctx); err != nil {
		logr.LogErrorf("resume active jobs: %v", err)
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Catalog Enricher",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Job:      jobSvc,
		Scan:     scanSvc,
		Catalog:  catalog.NewHandler(catalogStore),
		Redis:    redisSvc,
		Postgres: pgClient,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		taskServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
