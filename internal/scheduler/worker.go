package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"phoneagent_backend/internal/dispatcher"
	"phoneagent_backend/platform/logger"
)

// Worker consumes scheduled dial batch tasks and hands them to the
// dispatcher. One worker process runs per deployment.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *dispatcher.Dispatcher
	log        *logger.Logger
}

func NewWorker(cfg Config, d *dispatcher.Dispatcher, log *logger.Logger) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})

	w := &Worker{
		server:     server,
		mux:        asynq.NewServeMux(),
		dispatcher: d,
		log:        log,
	}
	w.mux.HandleFunc(TaskDialBatch, w.handleDialBatch)

	return w, nil
}

// Run starts the worker and blocks until ctx is cancelled or the
// server stops on its own.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.log.Info("scheduler worker shutting down")
		w.server.Shutdown()
	}()

	w.log.Info("scheduler worker started")
	return w.server.Run(w.mux)
}

func (w *Worker) handleDialBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDialBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse dial batch payload: %w", err)
	}

	w.log.Info("dial batch task received", "campaign", payload.Campaign)

	summary, err := w.dispatcher.RunBatchSize(ctx, payload.BatchSize)
	if err != nil {
		return fmt.Errorf("run dial batch: %w", err)
	}

	w.log.Info("dial batch task finished",
		"campaign", summary.Campaign,
		"called", summary.Called,
		"errored", summary.Errored,
		"pending", summary.Pending,
		"aborted", summary.Aborted,
	)
	return nil
}
