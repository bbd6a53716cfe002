// Command dialer runs one dial batch from the terminal: load the lead
// CSV, check the gateway balance, and work through the pending leads.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"phoneagent_backend/internal/config"
	"phoneagent_backend/internal/dispatcher"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/gateway"
	"phoneagent_backend/internal/leads/source"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/internal/report"
	"phoneagent_backend/platform/apperr"
	"phoneagent_backend/platform/logger"
)

func main() {
	csvPath := flag.String("csv", "", "path to the lead CSV file (optional when the cache is already loaded)")
	batchSize := flag.Int("batch-size", 0, "override the campaign batch size")
	discardCorrupt := flag.Bool("discard-corrupt", false, "discard an unreadable lead cache and start fresh")
	exportPath := flag.String("export", "", "write the lead cache to a CSV backup and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	campaign, err := config.LoadCampaign(cfg.CampaignFile)
	if err != nil {
		log.Error("failed to load campaign", "error", err, "file", cfg.CampaignFile)
		panic("failed to load campaign: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	leadStore := store.New(cfg.StateFile, cfg.PersistEvery, log)
	if err := leadStore.Load(); err != nil {
		if !apperr.Is(err, apperr.KindCorruptState) || !*discardCorrupt {
			log.Error("failed to load lead cache", "error", err)
			panic("failed to load lead cache: " + err.Error())
		}
		log.Warn("discarding corrupt lead cache", "file", cfg.StateFile)
		if err := leadStore.Discard(); err != nil {
			panic("failed to discard lead cache: " + err.Error())
		}
	}

	if *csvPath != "" {
		importCSV(leadStore, *csvPath, log)
	}

	if *exportPath != "" {
		exportCSV(leadStore, *exportPath)
		return
	}

	stats := leadStore.Stats()
	if stats.NotProcessed == 0 {
		fmt.Printf("Campaign %q: all %d leads already worked (%d called, %d errored)\n",
			campaign.Name, stats.Total, stats.Called, stats.Errored)
		return
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Secret:  cfg.GatewaySecret,
		From:    cfg.GatewayFrom,
		SIPID:   cfg.GatewaySIPID,
	}, log)

	balance, err := gatewayClient.Balance(ctx)
	if err != nil {
		log.Error("failed to check gateway balance", "error", err)
		panic("failed to check gateway balance: " + err.Error())
	}
	fmt.Printf("Gateway balance: %.2f %s\n", balance.Balance, balance.Currency)

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

	summary, err := disp.RunBatchSize(ctx, *batchSize)
	if err != nil {
		log.Error("dial batch failed", "error", err)
		panic("dial batch failed: " + err.Error())
	}

	fmt.Printf("Campaign %q batch finished\n", summary.Campaign)
	fmt.Printf("  called:  %d\n", summary.Called)
	fmt.Printf("  errors:  %d\n", summary.Errored)
	fmt.Printf("  skipped: %d (already worked)\n", summary.Skipped)
	fmt.Printf("  pending: %d\n", summary.Pending)
	if summary.Aborted {
		fmt.Println("  the batch aborted before completion (calling window closed or interrupted)")
	}
}

func importCSV(leadStore *store.Store, path string, log *logger.Logger) {
	reader := source.NewReader(log)
	parsed, result, err := reader.ReadFile(path)
	if err != nil {
		log.Error("failed to read lead CSV", "error", err, "file", path)
		panic("failed to read lead CSV: " + err.Error())
	}

	imported := 0
	for _, lead := range parsed {
		// Leads already worked keep their state across re-imports.
		if leadStore.Has(lead.ID) {
			continue
		}
		if err := leadStore.Upsert(lead); err != nil {
			log.Error("failed to cache lead", "error", err, "lead_id", lead.ID)
			panic("failed to cache lead: " + err.Error())
		}
		imported++
	}
	if err := leadStore.Persist(); err != nil {
		panic("failed to persist lead cache: " + err.Error())
	}

	fmt.Printf("Imported %d of %d leads (%d without phone, %d bad phone, %d duplicates)\n",
		imported, result.Total, result.NoPhone, result.BadPhone, result.Duplicates)
}

func exportCSV(leadStore *store.Store, path string) {
	f, err := os.Create(path)
	if err != nil {
		panic("failed to create export file: " + err.Error())
	}
	defer f.Close()

	leads := leadStore.All()
	if err := source.WriteCSV(f, leads); err != nil {
		panic("failed to export lead cache: " + err.Error())
	}
	fmt.Printf("Exported %d leads to %s\n", len(leads), path)
}

// noopRegistry is used when no webhook server tracks the placed calls.
// Outcomes are picked up later from the gateway transcript files.
type noopRegistry struct{}

func (noopRegistry) Expect(callID, leadID, name, phone string) {}
