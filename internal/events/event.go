// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"phoneagent_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Call Domain Events
// =============================================================================

// TranscriptTurn is a single exchange in a completed call.
type TranscriptTurn struct {
	Speaker string    `json:"speaker"` // "client" or "advisor"
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// CallCompleted is published when a tracked call reaches a terminal state,
// whether it ended normally, hit voicemail, or failed.
type CallCompleted struct {
	BaseEvent
	CallID     string           `json:"callId"`
	LeadID     string           `json:"leadId,omitempty"`
	Phone      string           `json:"phone"`
	Outcome    string           `json:"outcome"`
	AnsweredAt *time.Time       `json:"answeredAt,omitempty"`
	EndedAt    time.Time        `json:"endedAt"`
	Duration   time.Duration    `json:"duration"`
	Transcript []TranscriptTurn `json:"transcript,omitempty"`
}

func (e CallCompleted) EventName() string { return "calls.call.completed" }

// =============================================================================
// Dispatch Domain Events
// =============================================================================

// BatchFinished is published when a dial batch completes, aborts on the
// calling window, or runs out of pending leads.
type BatchFinished struct {
	BaseEvent
	Campaign  string    `json:"campaign"`
	StartedAt time.Time `json:"startedAt"`
	Called    int       `json:"called"`
	Errored   int       `json:"errored"`
	Skipped   int       `json:"skipped"`
	Pending   int       `json:"pending"`
	Aborted   bool      `json:"aborted"`
}

func (e BatchFinished) EventName() string { return "dispatch.batch.finished" }
