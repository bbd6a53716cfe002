package calls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"phoneagent_backend/internal/conversation"
)

func TestExporterWrite(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewExporter(dir)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	session := NewSession("call-123456789012345", "lead-1", "Ana", "+34600111222", started)
	_ = session.MarkAnswered(started.Add(5 * time.Second))
	session.AddTurn(conversation.SpeakerAdvisor, "Hola, buenos días", started.Add(6*time.Second))
	session.AddTurn(conversation.SpeakerClient, "¿Quién llama?", started.Add(10*time.Second))
	session.MarkEnded(started.Add(30 * time.Second))

	if err := exporter.Write(session, "not_interested"); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := filepath.Join(dir, "transcription-call-1234567.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"CALL ID: call-123456789012345",
		"Phone: +34600111222",
		"Duration: 30.00 sec",
		"Outcome: not_interested",
		"TRANSCRIPTION:",
		"[advisor]: Hola, buenos días",
		"[client]: ¿Quién llama?",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("transcript missing %q:\n%s", want, content)
		}
	}
}

func TestSessionStateMachine(t *testing.T) {
	now := time.Now()
	session := NewSession("c", "l", "Ana", "+34600111222", now)
	if session.State != StateDialing {
		t.Fatalf("expected dialing, got %s", session.State)
	}

	session.MarkRinging()
	if session.State != StateRinging {
		t.Fatalf("expected ringing, got %s", session.State)
	}

	if err := session.MarkAnswered(now); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := session.MarkAnswered(now.Add(time.Second)); err != nil {
		t.Fatalf("duplicate answer should be tolerated: %v", err)
	}
	if !session.AnsweredAt.Equal(now) {
		t.Fatal("first answer timestamp must win")
	}

	session.AddTurn(conversation.SpeakerClient, "hola", now)
	if session.State != StateInConversation {
		t.Fatalf("client turn should start conversation, got %s", session.State)
	}

	session.MarkEnded(now.Add(time.Minute))
	if !session.Terminal() {
		t.Fatal("expected terminal session")
	}
	if session.Duration() != time.Minute {
		t.Fatalf("unexpected duration %v", session.Duration())
	}

	// marks after end are no-ops
	session.MarkEnded(now.Add(2 * time.Minute))
	if !session.EndedAt.Equal(now.Add(time.Minute)) {
		t.Fatal("second end must not move the end timestamp")
	}
	if err := session.MarkAnswered(now); err == nil {
		t.Fatal("answer after end should error")
	}
}
