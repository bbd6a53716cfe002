package calls

import (
	"net/url"
	"testing"
	"time"
)

func TestParseWebhookStart(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_START")
	form.Set("call_id", "call-1")
	form.Set("caller_id", "+34910000000")
	form.Set("callee_id", "+34600111222")
	form.Set("call_start", "2026-08-29 10:15:00")

	ev := ParseWebhook(form)
	start, ok := ev.(CallStarted)
	if !ok {
		t.Fatalf("expected CallStarted, got %T", ev)
	}
	if start.CallID() != "call-1" || start.CalleeID != "+34600111222" {
		t.Fatalf("unexpected event: %+v", start)
	}
	want := time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC)
	if !start.At().Equal(want) {
		t.Fatalf("unexpected timestamp %v", start.At())
	}
}

func TestParseWebhookSpeech(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_RECORD")
	form.Set("call_id", "call-1")
	form.Set("transcript", "hola, ¿quién es?")

	ev := ParseWebhook(form)
	speech, ok := ev.(SpeechDetected)
	if !ok {
		t.Fatalf("expected SpeechDetected, got %T", ev)
	}
	if speech.Transcript != "hola, ¿quién es?" {
		t.Fatalf("unexpected transcript %q", speech.Transcript)
	}
}

func TestParseWebhookSpeechWithoutTranscript(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_RECORD")
	form.Set("call_id", "call-1")
	if ev := ParseWebhook(form); ev != nil {
		t.Fatalf("expected nil for empty transcript, got %T", ev)
	}
}

func TestParseWebhookEnd(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_END")
	form.Set("pbx_call_id", "call-2")
	form.Set("duration", "42")
	form.Set("disposition", "answered")

	ev := ParseWebhook(form)
	end, ok := ev.(CallEnded)
	if !ok {
		t.Fatalf("expected CallEnded, got %T", ev)
	}
	if end.CallID() != "call-2" || end.Duration != 42*time.Second || end.Disposition != "answered" {
		t.Fatalf("unexpected event: %+v", end)
	}
}

func TestParseWebhookVoicemailAndInternal(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_VOICE_MAIL")
	form.Set("call_id", "call-3")
	if _, ok := ParseWebhook(form).(VoicemailDetected); !ok {
		t.Fatal("expected VoicemailDetected")
	}

	form.Set("event", "NOTIFY_INTERNAL")
	if _, ok := ParseWebhook(form).(ClientAnswered); !ok {
		t.Fatal("expected ClientAnswered")
	}
}

func TestParseWebhookUnknownEvent(t *testing.T) {
	form := url.Values{}
	form.Set("event", "NOTIFY_OUT_START")
	form.Set("call_id", "call-4")
	if ev := ParseWebhook(form); ev != nil {
		t.Fatalf("expected nil for untracked event type, got %T", ev)
	}
}
