// Command scheduler is the queue worker for dial batches. It consumes
// campaign.dial_batch tasks and runs them headless, without the live
// conversation layer. Deployments that need the tracker consume the
// queue inside the api process instead.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phoneagent_backend/internal/config"
	"phoneagent_backend/internal/dispatcher"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/gateway"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/internal/report"
	"phoneagent_backend/internal/scheduler"
	"phoneagent_backend/platform/logger"
)

func main() {
	enqueueAt := flag.Duration("enqueue-in", -1, "enqueue one batch task after this delay (e.g. 30m), then keep consuming")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	campaign, err := config.LoadCampaign(cfg.CampaignFile)
	if err != nil {
		log.Error("failed to load campaign", "error", err, "file", cfg.CampaignFile)
		panic("failed to load campaign: " + err.Error())
	}

	leadStore := store.New(cfg.StateFile, cfg.PersistEvery, log)
	if err := leadStore.Load(); err != nil {
		log.Error("failed to load lead cache", "error", err)
		panic("failed to load lead cache: " + err.Error())
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Secret:  cfg.GatewaySecret,
		From:    cfg.GatewayFrom,
		SIPID:   cfg.GatewaySIPID,
	}, log)

	eventBus := events.NewInMemoryBus(log)
	if cfg.ReportEnabled() {
		mailer := report.NewMailer(report.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.ReportFrom,
			To:       cfg.ReportTo,
		}, leadStore.Stats, log)
		mailer.Subscribe(eventBus)
	}

	disp := dispatcher.New(dispatcher.Config{
		Campaign:       campaign.Name,
		BatchSize:      campaign.BatchSize,
		InterCallDelay: campaign.InterCallDelay,
		Window: dispatcher.Window{
			Days:      campaign.Weekdays(),
			StartHour: campaign.Window.StartHour,
			EndHour:   campaign.Window.EndHour,
			Location:  campaign.Location(),
		},
	}, leadStore, gatewayClient, noopRegistry{}, eventBus, log)

	schedCfg := scheduler.Config{
		RedisURL:    cfg.RedisURL,
		Queue:       cfg.AsynqQueue,
		Concurrency: cfg.AsynqConcurrency,
	}

	if *enqueueAt >= 0 {
		enqueueBatch(ctx, schedCfg, campaign.Name, *enqueueAt, log)
	}

	worker, err := scheduler.NewWorker(schedCfg, disp, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	if err := worker.Run(ctx); err != nil {
		log.Error("scheduler worker error", "error", err)
		panic("scheduler worker error: " + err.Error())
	}
}

func enqueueBatch(ctx context.Context, cfg scheduler.Config, campaign string, delay time.Duration, log *logger.Logger) {
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	payload := scheduler.DialBatchPayload{Campaign: campaign}
	if err := client.ScheduleDialBatch(ctx, payload, time.Now().Add(delay)); err != nil {
		log.Error("failed to enqueue dial batch", "error", err)
		panic("failed to enqueue dial batch: " + err.Error())
	}
	log.Info("dial batch enqueued", "campaign", campaign, "delay", delay.String())
}

// noopRegistry stands in for the call tracker, which lives in the api
// process. Calls placed here are not followed live.
type noopRegistry struct{}

func (noopRegistry) Expect(callID, leadID, name, phone string) {}
