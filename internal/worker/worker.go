// Package worker runs the background task server that drives crawl jobs.
package worker

import (
	"context"

	"enricher/internal/logger"

	"github.com/hibiken/asynq"
)

// Server wraps the asynq consumer with the handler registry.
type Server struct {
	log *logger.Logger
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(redisOpt asynq.RedisClientOpt, concurrency int) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Server{
		log: logger.New("Worker"),
		srv: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{"default": 1},
		}),
		mux: asynq.NewServeMux(),
	}
}

func (s *Server) HandleFunc(taskType string, h func(ctx context.Context, task *asynq.Task) error) {
	s.mux.HandleFunc(taskType, h)
}

// Start begins consuming tasks in the background.
func (s *Server) Start() error {
	s.log.LogInfo("task server starting")
	return s.srv.Start(s.mux)
}

// Shutdown waits for in-flight handlers before returning.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
	s.log.LogInfo("task server stopped")
}
