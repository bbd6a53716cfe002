// Package leads records call results back onto the lead cache.
package leads

import (
	"context"

	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/internal/leads/store"
	"phoneagent_backend/platform/logger"
)

// OutcomeRecorder subscribes to finished calls and writes the outcome
// onto the matching lead.
type OutcomeRecorder struct {
	store *store.Store
	log   *logger.Logger
}

func NewOutcomeRecorder(st *store.Store, log *logger.Logger) *OutcomeRecorder {
	return &OutcomeRecorder{store: st, log: log}
}

// RegisterHandlers subscribes the recorder on the event bus.
func (r *OutcomeRecorder) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CallCompleted{}.EventName(), events.HandlerFunc(r.onCallCompleted))
}

func (r *OutcomeRecorder) onCallCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(events.CallCompleted)
	if !ok {
		return nil
	}

	leadID := completed.LeadID
	if leadID == "" {
		lead, found := r.store.FindByCallID(completed.CallID)
		if !found {
			r.log.Warn("call finished for unknown lead", "call_id", completed.CallID)
			return nil
		}
		leadID = lead.ID
	}

	if err := r.store.Update(leadID, func(l *domain.Lead) {
		l.Outcome = domain.Outcome(completed.Outcome)
	}); err != nil {
		return err
	}

	r.log.Info("lead outcome recorded",
		"lead_id", leadID,
		"call_id", completed.CallID,
		"outcome", completed.Outcome,
	)
	return r.store.Persist()
}
