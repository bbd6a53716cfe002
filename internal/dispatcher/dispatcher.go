package dispatcher

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/gateway"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/platform/logger"
)

// Caller places outbound calls. Satisfied by *gateway.Client.
type Caller interface {
	PlaceCall(ctx context.Context, phone string) (*gateway.CallResponse, error)
}

// CallRegistry learns about placed calls before their webhooks arrive.
// Satisfied by *calls.Tracker.
type CallRegistry interface {
	Expect(callID, leadID, name, phone string)
}

// Summary is the result of one batch run. Skipped counts leads that
// were already worked before the batch started.
type Summary struct {
	Campaign  string
	StartedAt time.Time
	Called    int
	Errored   int
	Skipped   int
	Pending   int
	Aborted   bool
}

// Config for a dispatcher.
type Config struct {
	Campaign       string
	BatchSize      int
	InterCallDelay time.Duration
	Window         Window
}

// Dispatcher runs dial batches: pull pending leads, place calls
// sequentially with pacing, record the result of each dial.
type Dispatcher struct {
	cfg      Config
	store    *store.Store
	caller   Caller
	registry CallRegistry
	bus      events.Bus
	log      *logger.Logger
	limiter  *rate.Limiter
	now      func() time.Time
}

func New(cfg Config, st *store.Store, caller Caller, registry CallRegistry, bus events.Bus, log *logger.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.InterCallDelay <= 0 {
		cfg.InterCallDelay = 20 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		caller:   caller,
		registry: registry,
		bus:      bus,
		log:      log,
		limiter:  rate.NewLimiter(rate.Every(cfg.InterCallDelay), 1),
		now:      time.Now,
	}
}

// RunBatch dials up to BatchSize pending leads. Leads already worked
// are never re-dialed, so interrupting and re-running a batch is safe.
// Leaving the calling window aborts the rest of the batch; untouched
// leads stay pending for the next run.
func (d *Dispatcher) RunBatch(ctx context.Context) (*Summary, error) {
	return d.RunBatchSize(ctx, 0)
}

// RunBatchSize runs one batch with an explicit size. A size of zero or
// less falls back to the configured batch size.
func (d *Dispatcher) RunBatchSize(ctx context.Context, size int) (*Summary, error) {
	if size <= 0 {
		size = d.cfg.BatchSize
	}

	stats := d.store.Stats()
	summary := &Summary{
		Campaign:  d.cfg.Campaign,
		StartedAt: d.now(),
		Skipped:   stats.Called + stats.Errored,
	}

	pending := d.store.Pending(size)
	if len(pending) == 0 {
		d.log.Info("no pending leads to dial", "campaign", d.cfg.Campaign)
		d.finish(ctx, summary)
		return summary, nil
	}

	for _, lead := range pending {
		if err := ctx.Err(); err != nil {
			summary.Aborted = true
			break
		}
		if !d.cfg.Window.Contains(d.now()) {
			d.log.Info("calling window closed, aborting batch",
				"campaign", d.cfg.Campaign, "remaining", len(pending)-summary.Called-summary.Errored)
			summary.Aborted = true
			break
		}

		// Pacing between dials. The first reservation is free.
		if err := d.limiter.Wait(ctx); err != nil {
			summary.Aborted = true
			break
		}

		d.dial(ctx, lead, summary)
	}

	d.finish(ctx, summary)
	return summary, nil
}

func (d *Dispatcher) dial(ctx context.Context, lead domain.Lead, summary *Summary) {
	resp, err := d.caller.PlaceCall(ctx, lead.Phone)
	now := d.now()

	if err != nil {
		detail := dialErrorDetail(err)
		if uerr := d.store.Update(lead.ID, func(l *domain.Lead) {
			l.MarkError(detail, now)
		}); uerr != nil {
			d.log.Error("failed to record dial error", "lead_id", lead.ID, "error", uerr)
		}
		summary.Errored++
		d.log.DispatchResult(lead.ID, string(domain.StatusError), detail)
		return
	}

	d.registry.Expect(resp.CallID, lead.ID, lead.Name, lead.Phone)
	if uerr := d.store.Update(lead.ID, func(l *domain.Lead) {
		l.MarkCalled(resp.CallID, now)
	}); uerr != nil {
		d.log.Error("failed to record placed call", "lead_id", lead.ID, "error", uerr)
	}
	summary.Called++
	d.log.DispatchResult(lead.ID, string(domain.StatusCalled), resp.CallID)
}

func (d *Dispatcher) finish(ctx context.Context, summary *Summary) {
	summary.Pending = len(d.store.Pending(0))

	if err := d.store.Persist(); err != nil {
		d.log.Error("failed to persist lead store after batch", "error", err)
	}

	// Synchronous so one-shot runs deliver the batch report before exiting.
	err := d.bus.PublishSync(ctx, events.BatchFinished{
		BaseEvent: events.NewBaseEvent(),
		Campaign:  summary.Campaign,
		StartedAt: summary.StartedAt,
		Called:    summary.Called,
		Errored:   summary.Errored,
		Skipped:   summary.Skipped,
		Pending:   summary.Pending,
		Aborted:   summary.Aborted,
	})
	if err != nil {
		d.log.Error("batch finished handler failed", "error", err)
	}
}

// dialErrorDetail keeps the stored error short but diagnosable.
func dialErrorDetail(err error) string {
	var reqErr *gateway.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Error()
	}
	return err.Error()
}
