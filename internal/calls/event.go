// Package calls tracks active telephony calls and drives the
// conversation over gateway webhook events.
package calls

import (
	"net/url"
	"strings"
	"time"
)

// Event is a call lifecycle event from the telephony gateway. The
// concrete types form a closed set; the tracker switches over them
// exhaustively.
type Event interface {
	CallID() string
	At() time.Time
	event()
}

type baseEvent struct {
	ID   string
	Time time.Time
}

func (e baseEvent) CallID() string { return e.ID }
func (e baseEvent) At() time.Time  { return e.Time }
func (e baseEvent) event()         {}

// CallStarted signals that the gateway began dialing the destination.
type CallStarted struct {
	baseEvent
	CallerID string
	CalleeID string
}

// ClientAnswered signals that the destination picked up.
type ClientAnswered struct {
	baseEvent
}

// SpeechDetected carries a transcribed client utterance. Transcription
// happens gateway-side; the payload is plain text.
type SpeechDetected struct {
	baseEvent
	Transcript string
}

// VoicemailDetected signals that an answering machine picked up.
type VoicemailDetected struct {
	baseEvent
}

// CallEnded signals the call reached a terminal state at the gateway.
type CallEnded struct {
	baseEvent
	Disposition string // gateway disposition, e.g. "answered", "busy", "cancel"
	Duration    time.Duration
}

// Gateway webhook event names.
const (
	notifyStart     = "NOTIFY_START"
	notifyInternal  = "NOTIFY_INTERNAL"
	notifyRecord    = "NOTIFY_RECORD"
	notifyVoiceMail = "NOTIFY_VOICE_MAIL"
	notifyEnd       = "NOTIFY_END"
)

// ParseWebhook maps a gateway webhook form payload to an Event. Returns
// nil for event types this system does not track; the caller logs and
// drops those.
func ParseWebhook(form url.Values) Event {
	callID := firstNonEmpty(form.Get("call_id"), form.Get("pbx_call_id"), form.Get("callid"))
	base := baseEvent{ID: callID, Time: eventTime(form.Get("call_start"))}

	switch form.Get("event") {
	case notifyStart:
		return CallStarted{
			baseEvent: base,
			CallerID:  form.Get("caller_id"),
			CalleeID:  firstNonEmpty(form.Get("callee_id"), form.Get("called_did")),
		}
	case notifyInternal:
		return ClientAnswered{baseEvent: base}
	case notifyRecord:
		transcript := firstNonEmpty(form.Get("transcript"), form.Get("speech"))
		if strings.TrimSpace(transcript) == "" {
			return nil
		}
		return SpeechDetected{baseEvent: base, Transcript: transcript}
	case notifyVoiceMail:
		return VoicemailDetected{baseEvent: base}
	case notifyEnd:
		return CallEnded{
			baseEvent:   base,
			Disposition: form.Get("disposition"),
			Duration:    time.Duration(parseSeconds(form.Get("duration"))) * time.Second,
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// eventTime parses the gateway's "2006-01-02 15:04:05" timestamp,
// defaulting to now when absent or malformed.
func eventTime(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	t, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return time.Now()
	}
	return t
}

func parseSeconds(raw string) int {
	seconds := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0
		}
		seconds = seconds*10 + int(r-'0')
	}
	return seconds
}
