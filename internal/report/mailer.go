// Package report emails batch summaries to the campaign operator.
package report

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"phoneagent_backend/internal/dispatcher"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/platform/logger"
)

// Config for the batch report mailer.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Mailer sends a plain-text summary after each batch run. It subscribes
// to BatchFinished so the scheduler and the one-shot dialer both get
// reports without extra wiring.
type Mailer struct {
	cfg   Config
	stats func() store.Stats
	log   *logger.Logger
}

func NewMailer(cfg Config, stats func() store.Stats, log *logger.Logger) *Mailer {
	return &Mailer{cfg: cfg, stats: stats, log: log}
}

// Subscribe registers the mailer on the event bus.
func (m *Mailer) Subscribe(bus events.Bus) {
	bus.Subscribe(events.BatchFinished{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		finished, ok := event.(events.BatchFinished)
		if !ok {
			return nil
		}
		return m.SendBatchReport(ctx, summaryFromEvent(finished))
	}))
}

func summaryFromEvent(e events.BatchFinished) dispatcher.Summary {
	return dispatcher.Summary{
		Campaign:  e.Campaign,
		StartedAt: e.StartedAt,
		Called:    e.Called,
		Errored:   e.Errored,
		Skipped:   e.Skipped,
		Pending:   e.Pending,
		Aborted:   e.Aborted,
	}
}

// SendBatchReport emails the summary of one batch run.
func (m *Mailer) SendBatchReport(ctx context.Context, summary dispatcher.Summary) error {
	subject := fmt.Sprintf("Dial batch report: %s (%d called, %d errors)",
		summary.Campaign, summary.Called, summary.Errored)

	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("report from: %w", err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return fmt.Errorf("report to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.renderBody(summary))

	client, err := gomail.NewClient(m.cfg.Host,
		gomail.WithPort(m.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.cfg.Username),
		gomail.WithPassword(m.cfg.Password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("report smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("report send: %w", err)
	}

	m.log.Info("batch report sent", "campaign", summary.Campaign, "to", m.cfg.To)
	return nil
}

func (m *Mailer) renderBody(summary dispatcher.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campaign: %s\n", summary.Campaign)
	fmt.Fprintf(&b, "Batch started: %s\n\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Called:  %d\n", summary.Called)
	fmt.Fprintf(&b, "Errors:  %d\n", summary.Errored)
	fmt.Fprintf(&b, "Skipped: %d (already worked)\n", summary.Skipped)
	fmt.Fprintf(&b, "Pending: %d\n", summary.Pending)
	if summary.Aborted {
		b.WriteString("\nThe batch aborted before completion (calling window closed or shutdown).\n")
	}

	if m.stats != nil {
		stats := m.stats()
		fmt.Fprintf(&b, "\nCampaign totals: %d leads, %d called, %d errored, %d pending\n",
			stats.Total, stats.Called, stats.Errored, stats.NotProcessed)
	}
	return b.String()
}
