// Package domain provides core business rules for the leads bounded context.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status tracks where a lead sits in the calling lifecycle. The wire values
// match the snapshot file format.
type Status string

const (
	StatusNotProcessed Status = "Not processed"
	StatusCalled       Status = "Called"
	StatusError        Status = "Error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotProcessed, StatusCalled, StatusError:
		return true
	}
	return false
}

// Outcome classifies how a completed call went. Empty until the call for
// this lead reaches a terminal state.
type Outcome string

const (
	OutcomeAnswered      Outcome = "answered"
	OutcomeNoAnswer      Outcome = "no_answer"
	OutcomeVoicemail     Outcome = "voicemail"
	OutcomeInterested    Outcome = "interested"
	OutcomeNotInterested Outcome = "not_interested"
)

// Lead is one contact in the campaign. Fields mirror the ingest CSV;
// call-tracking fields are filled in as the dispatcher works the lead.
type Lead struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	ZIP     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
	CUPSLuz string `json:"cupsLuz,omitempty"`
	CUPSGas string `json:"cupsGas,omitempty"`
	IBAN    string `json:"iban,omitempty"`
	DNI     string `json:"dni,omitempty"`
	Source  string `json:"source,omitempty"`

	Status       Status     `json:"status"`
	Outcome      Outcome    `json:"outcome,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CallID       string     `json:"callId,omitempty"`
	ErrorDetail  string     `json:"errorDetail,omitempty"`
	CallCount    int        `json:"callCount,omitempty"`
	LastCalledAt *time.Time `json:"lastCalledAt,omitempty"`
	CachedAt     time.Time  `json:"cachedAt"`

	// Fields written by newer versions of the snapshot format are kept
	// here so a round-trip does not drop them.
	extra map[string]json.RawMessage
}

// knownLeadFields lists every JSON key the struct owns. Anything else in
// a snapshot record is preserved verbatim in extra.
var knownLeadFields = map[string]bool{
	"id": true, "name": true, "phone": true, "email": true,
	"address": true, "city": true, "zip": true, "country": true,
	"cupsLuz": true, "cupsGas": true, "iban": true, "dni": true,
	"source": true, "status": true, "outcome": true, "notes": true,
	"callId": true,
	"errorDetail": true, "callCount": true, "lastCalledAt": true,
	"cachedAt": true,
}

// leadAlias avoids recursing into the custom marshalers.
type leadAlias Lead

func (l *Lead) UnmarshalJSON(data []byte) error {
	var alias leadAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownLeadFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) == 0 {
		raw = nil
	}

	*l = Lead(alias)
	l.extra = raw
	return nil
}

func (l Lead) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(leadAlias(l))
	if err != nil {
		return nil, err
	}
	if len(l.extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, val := range l.extra {
		if _, owned := merged[key]; !owned {
			merged[key] = val
		}
	}
	return json.Marshal(merged)
}

// Validate checks the minimum a lead needs before it can be stored.
func (l *Lead) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("lead id is required")
	}
	if l.Phone == "" {
		return fmt.Errorf("lead %s has no phone number", l.ID)
	}
	if l.Status == "" {
		l.Status = StatusNotProcessed
	}
	if !l.Status.Valid() {
		return fmt.Errorf("lead %s has unknown status %q", l.ID, l.Status)
	}
	return nil
}

// Processed reports whether the lead has already been worked, successfully
// or not. Processed leads are skipped on re-ingest and re-dispatch.
func (l *Lead) Processed() bool {
	return l.Status == StatusCalled || l.Status == StatusError
}

// MarkCalled records a successfully placed call.
func (l *Lead) MarkCalled(callID string, at time.Time) {
	l.Status = StatusCalled
	l.CallID = callID
	l.ErrorDetail = ""
	l.CallCount++
	l.LastCalledAt = &at
}

// MarkError records a failed dial attempt with the gateway's reason.
func (l *Lead) MarkError(detail string, at time.Time) {
	l.Status = StatusError
	l.ErrorDetail = detail
	l.LastCalledAt = &at
}
