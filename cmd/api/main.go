package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"phoneagent_backend/internal/calls"
	callshandler "phoneagent_backend/internal/calls/handler"
	"phoneagent_backend/internal/config"
	"phoneagent_backend/internal/conversation"
	"phoneagent_backend/internal/conversation/agent"
	"phoneagent_backend/internal/conversation/tts"
	"phoneagent_backend/internal/dispatcher"
	dispatchhandler "phoneagent_backend/internal/dispatcher/handler"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/gateway"
	"phoneagent_backend/internal/http/router"
	"phoneagent_backend/internal/leads"
	"phoneagent_backend/internal/leads/source"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/internal/report"
	"phoneagent_backend/internal/scheduler"
	"phoneagent_backend/platform/apperr"
	"phoneagent_backend/platform/logger"
	"phoneagent_backend/platform/validator"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	campaign, err := config.LoadCampaign(cfg.CampaignFile)
	if err != nil {
		log.Error("failed to load campaign", "error", err, "file", cfg.CampaignFile)
		panic("failed to load campaign: " + err.Error())
	}
	log.Info("campaign loaded", "campaign", campaign.Name, "batch_size", campaign.BatchSize)

	eventBus := events.NewInMemoryBus(log)

	leadStore := store.New(cfg.StateFile, cfg.PersistEvery, log)
	if err := leadStore.Load(); err != nil {
		if apperr.Is(err, apperr.KindCorruptState) {
			log.Error("lead cache is corrupt; run the dialer with -discard-corrupt to reset it", "error", err)
		}
		panic("failed to load lead cache: " + err.Error())
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Secret:  cfg.GatewaySecret,
		From:    cfg.GatewayFrom,
		SIPID:   cfg.GatewaySIPID,
	}, log)

	synth, err := tts.New(tts.Config{
		Lang:     cfg.TTSLang,
		CacheDir: cfg.VoiceCacheDir,
		BaseURL:  cfg.AudioBaseURL,
	}, log)
	if err != nil {
		log.Error("failed to initialize speech synthesizer", "error", err)
		panic("failed to initialize speech synthesizer: " + err.Error())
	}

	var responder conversation.Responder
	if cfg.MoonshotAPIKey != "" {
		advisor, err := agent.NewAdvisor(agent.Config{
			APIKey:  cfg.MoonshotAPIKey,
			BaseURL: cfg.MoonshotBaseURL,
			Model:   cfg.MoonshotModel,
			Script:  campaign.Script,
		}, log)
		if err != nil {
			log.Error("failed to initialize response engine, replies use the fallback script", "error", err)
		} else {
			responder = advisor
		}
	} else {
		log.Warn("MOONSHOT_API_KEY not set; replies use the fallback script")
	}

	pipeline := conversation.NewPipeline(responder, synth, conversation.Script{
		Greeting: campaign.FallbackGreeting,
		Fallback: campaign.FallbackResponse,
		Closing:  campaign.ClosingLine,
	}, log)
	if advisor, ok := responder.(*agent.Advisor); ok {
		pipeline.SetClassifier(advisor)
	}

	exporter, err := calls.NewExporter(cfg.TranscriptsDir)
	if err != nil {
		log.Error("failed to initialize transcript exporter", "error", err)
		panic("failed to initialize transcript exporter: " + err.Error())
	}

	tracker := calls.NewTracker(calls.Config{
		MaxCallDuration: campaign.MaxCallDuration,
	}, gatewayClient, pipeline, exporter, eventBus, log)

	recorder := leads.NewOutcomeRecorder(leadStore, log)
	recorder.RegisterHandlers(eventBus)

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
		log.Info("batch report mailer enabled", "to", cfg.ReportTo)
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
	}, leadStore, gatewayClient, tracker, eventBus, log)

	starter, closeStarter := initBatchStarter(ctx, cfg, campaign, disp, log)
	if closeStarter != nil {
		defer closeStarter()
	}

	// With Redis configured the queued batches are consumed here, where
	// the tracker can follow the placed calls.
	if cfg.RedisURL != "" {
		worker, err := scheduler.NewWorker(scheduler.Config{
			RedisURL:    cfg.RedisURL,
			Queue:       cfg.AsynqQueue,
			Concurrency: cfg.AsynqConcurrency,
		}, disp, log)
		if err != nil {
			log.Error("failed to initialize batch worker", "error", err)
		} else {
			go func() {
				if err := worker.Run(ctx); err != nil {
					log.Error("batch worker stopped", "error", err)
				}
			}()
		}
	}

	val := validator.New()

	callsHandler := callshandler.New(tracker, cfg.WebhookSecret, cfg.VerifyWebhookSig, cfg.VoiceCacheDir, log)
	campaignHandler := dispatchhandler.New(campaign, leadStore, source.NewReader(log), starter, val, log)

	engine := router.New(cfg, log, callsHandler, campaignHandler)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		tracker.RunReaper(gctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := synth.Cleanup(24 * time.Hour); err != nil {
					log.Warn("voice cache cleanup failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}

	tracker.Close()
	if err := leadStore.Persist(); err != nil {
		log.Error("failed to persist lead cache on shutdown", "error", err)
	}
}

// initBatchStarter picks how POST /campaign/batches runs a batch. With
// Redis configured the batch is enqueued for the scheduler worker;
// without it the dispatcher runs in-process.
func initBatchStarter(ctx context.Context, cfg *config.Config, campaign *config.Campaign, disp *dispatcher.Dispatcher, log *logger.Logger) (dispatchhandler.BatchStarter, func()) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; dial batches run in-process")
		return &localStarter{ctx: ctx, dispatcher: disp, log: log}, nil
	}

	client, err := scheduler.NewClient(scheduler.Config{
		RedisURL: cfg.RedisURL,
		Queue:    cfg.AsynqQueue,
	})
	if err != nil {
		log.Error("failed to initialize scheduler client; dial batches run in-process", "error", err)
		return &localStarter{ctx: ctx, dispatcher: disp, log: log}, nil
	}

	return &queueStarter{client: client, campaign: campaign.Name}, func() {
		_ = client.Close()
	}
}

type queueStarter struct {
	client   *scheduler.Client
	campaign string
}

func (s *queueStarter) StartBatch(ctx context.Context, batchSize int) error {
	return s.client.EnqueueDialBatch(ctx, scheduler.DialBatchPayload{
		Campaign:  s.campaign,
		BatchSize: batchSize,
	})
}

type localStarter struct {
	ctx        context.Context
	dispatcher *dispatcher.Dispatcher
	log        *logger.Logger
	running    atomic.Bool
}

func (s *localStarter) StartBatch(_ context.Context, batchSize int) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperr.New(apperr.KindConflict, "a dial batch is already running")
	}

	go func() {
		defer s.running.Store(false)
		if _, err := s.dispatcher.RunBatchSize(s.ctx, batchSize); err != nil {
			s.log.Error("dial batch failed", "error", err)
		}
	}()
	return nil
}
