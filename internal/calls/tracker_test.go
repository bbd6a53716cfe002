package calls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"phoneagent_backend/internal/conversation"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/logger"
)

const waitTimeout = 5 * time.Second

type fakeTelephony struct {
	mu       sync.Mutex
	played   []string
	hangups  []string
	playedCh chan string
	failPlay bool
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{playedCh: make(chan string, 16)}
}

func (f *fakeTelephony) PlayAudio(ctx context.Context, callID, audioURL string) error {
	f.mu.Lock()
	if f.failPlay {
		f.mu.Unlock()
		return fmt.Errorf("gateway rejected playback for %s", callID)
	}
	f.played = append(f.played, callID+" "+audioURL)
	f.mu.Unlock()
	f.playedCh <- audioURL
	return nil
}

func (f *fakeTelephony) Hangup(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callID)
	return nil
}

func (f *fakeTelephony) playedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

// fakePipeline answers immediately unless the client text appears in
// blockOn, in which case RespondTo waits for release. The history each
// RespondTo call received is recorded per client text.
type fakePipeline struct {
	blockOn string
	release chan struct{}

	mu        sync.Mutex
	histories map[string][]conversation.Turn
}

func (f *fakePipeline) Greeting(ctx context.Context, leadName string) (*conversation.Reply, error) {
	return &conversation.Reply{Text: "hola " + leadName, AudioURL: "audio/greeting.mp3"}, nil
}

func (f *fakePipeline) RespondTo(ctx context.Context, history []conversation.Turn, clientText string) (*conversation.Reply, error) {
	f.mu.Lock()
	if f.histories == nil {
		f.histories = make(map[string][]conversation.Turn)
	}
	f.histories[clientText] = append([]conversation.Turn(nil), history...)
	f.mu.Unlock()

	if f.blockOn != "" && clientText == f.blockOn {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &conversation.Reply{
		Text:     "respuesta a " + clientText,
		AudioURL: "audio/" + clientText + ".mp3",
	}, nil
}

func (f *fakePipeline) history(clientText string) []conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[clientText]
}

func (f *fakePipeline) Closing(ctx context.Context) (*conversation.Reply, error) {
	return &conversation.Reply{Text: "adiós", AudioURL: "audio/closing.mp3"}, nil
}

func (f *fakePipeline) ClassifyConversation(ctx context.Context, transcript []conversation.Turn) domain.Outcome {
	return conversation.ClassifyOutcome(transcript)
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu        sync.Mutex
	completed []events.CallCompleted
	notify    chan events.CallCompleted
}

func newRecordingBus() *recordingBus {
	return &recordingBus{notify: make(chan events.CallCompleted, 16)}
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) {
	if completed, ok := event.(events.CallCompleted); ok {
		b.mu.Lock()
		b.completed = append(b.completed, completed)
		b.mu.Unlock()
		b.notify <- completed
	}
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(eventName string, handler events.Handler) {}

func waitCompleted(t *testing.T, bus *recordingBus) events.CallCompleted {
	t.Helper()
	select {
	case completed := <-bus.notify:
		return completed
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for call completion")
		return events.CallCompleted{}
	}
}

func waitPlayed(t *testing.T, tel *fakeTelephony) string {
	t.Helper()
	select {
	case url := <-tel.playedCh:
		return url
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for playback")
		return ""
	}
}

func newTestTracker(tel Telephony, pipe Pipeline, bus events.Bus) *Tracker {
	return NewTracker(Config{MaxCallDuration: time.Minute}, tel, pipe, nil, bus, logger.New("test"))
}

func startEvent(callID string) CallStarted {
	return CallStarted{baseEvent: baseEvent{ID: callID, Time: time.Now()}, CalleeID: "+34600111222"}
}

func answerEvent(callID string) ClientAnswered {
	return ClientAnswered{baseEvent: baseEvent{ID: callID, Time: time.Now()}}
}

func speechEvent(callID, text string) SpeechDetected {
	return SpeechDetected{baseEvent: baseEvent{ID: callID, Time: time.Now()}, Transcript: text}
}

func endEvent(callID string) CallEnded {
	return CallEnded{baseEvent: baseEvent{ID: callID, Time: time.Now()}}
}

func TestCallLifecycle(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := newTestTracker(tel, &fakePipeline{}, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	if got := waitPlayed(t, tel); got != "audio/greeting.mp3" {
		t.Fatalf("expected greeting first, got %q", got)
	}

	tracker.Dispatch(ctx, speechEvent("call-1", "me interesa"))
	if got := waitPlayed(t, tel); got != "audio/me interesa.mp3" {
		t.Fatalf("expected response playback, got %q", got)
	}

	tracker.Dispatch(ctx, endEvent("call-1"))
	completed := waitCompleted(t, bus)

	if completed.CallID != "call-1" || completed.LeadID != "lead-1" {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	if completed.Outcome != "interested" {
		t.Fatalf("expected interested outcome, got %q", completed.Outcome)
	}
	if len(completed.Transcript) != 3 {
		t.Fatalf("expected 3 transcript turns, got %d", len(completed.Transcript))
	}
	if completed.Transcript[1].Speaker != conversation.SpeakerClient {
		t.Fatalf("unexpected transcript order: %+v", completed.Transcript)
	}
	if completed.AnsweredAt == nil {
		t.Fatal("expected answered timestamp")
	}
}

func TestUnknownCallDropped(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	tracker := newTestTracker(tel, &fakePipeline{}, newRecordingBus())

	tracker.Dispatch(ctx, answerEvent("nobody"))
	tracker.Dispatch(ctx, speechEvent("nobody", "hola"))

	if calls := tracker.Snapshot(); len(calls) != 0 {
		t.Fatalf("expected no tracked calls, got %+v", calls)
	}
	if tel.playedCount() != 0 {
		t.Fatal("nothing should play for untracked calls")
	}
}

func TestVoicemailHangsUpWithoutSpeaking(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := newTestTracker(tel, &fakePipeline{}, bus)

	tracker.Expect("call-vm", "lead-2", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-vm"))
	tracker.Dispatch(ctx, VoicemailDetected{baseEvent: baseEvent{ID: "call-vm", Time: time.Now()}})
	tracker.Dispatch(ctx, endEvent("call-vm"))

	completed := waitCompleted(t, bus)
	if completed.Outcome != "voicemail" {
		t.Fatalf("expected voicemail outcome, got %q", completed.Outcome)
	}

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if len(tel.hangups) != 1 || tel.hangups[0] != "call-vm" {
		t.Fatalf("expected voicemail hangup, got %v", tel.hangups)
	}
	if len(tel.played) != 0 {
		t.Fatalf("expected no playback into voicemail, got %v", tel.played)
	}
}

func TestNoAnswerOutcome(t *testing.T) {
	ctx := context.Background()
	bus := newRecordingBus()
	tracker := newTestTracker(newFakeTelephony(), &fakePipeline{}, bus)

	tracker.Expect("call-na", "lead-3", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-na"))
	tracker.Dispatch(ctx, endEvent("call-na"))

	completed := waitCompleted(t, bus)
	if completed.Outcome != "no_answer" {
		t.Fatalf("expected no_answer, got %q", completed.Outcome)
	}
}

func TestSlowCallDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	pipe := &fakePipeline{blockOn: "lenta", release: make(chan struct{})}
	tracker := newTestTracker(tel, pipe, bus)

	tracker.Expect("call-a", "lead-a", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-a"))
	tracker.Dispatch(ctx, answerEvent("call-a"))
	waitPlayed(t, tel) // greeting for A
	tracker.Dispatch(ctx, speechEvent("call-a", "lenta"))

	// While A's response generation hangs, B runs through a full call.
	tracker.Expect("call-b", "lead-b", "Ana", "+34600333444")
	tracker.Dispatch(ctx, startEvent("call-b"))
	tracker.Dispatch(ctx, answerEvent("call-b"))
	waitPlayed(t, tel)
	tracker.Dispatch(ctx, endEvent("call-b"))

	completed := waitCompleted(t, bus)
	if completed.CallID != "call-b" {
		t.Fatalf("expected call-b to complete first, got %s", completed.CallID)
	}

	close(pipe.release)
	waitPlayed(t, tel) // A's delayed response now plays
	tracker.Dispatch(ctx, endEvent("call-a"))
	completed = waitCompleted(t, bus)
	if completed.CallID != "call-a" {
		t.Fatalf("expected call-a completion, got %s", completed.CallID)
	}
}

func TestSameCallSpeechWaitsForPreviousReply(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	pipe := &fakePipeline{blockOn: "primera", release: make(chan struct{})}
	tracker := newTestTracker(tel, pipe, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	waitPlayed(t, tel) // greeting

	tracker.Dispatch(ctx, speechEvent("call-1", "primera"))
	tracker.Dispatch(ctx, speechEvent("call-1", "segunda"))
	// Give a premature second-turn generation time to surface before
	// the first turn is released.
	time.Sleep(50 * time.Millisecond)
	close(pipe.release)

	if got := waitPlayed(t, tel); got != "audio/primera.mp3" {
		t.Fatalf("first turn must play first, got %q", got)
	}
	if got := waitPlayed(t, tel); got != "audio/segunda.mp3" {
		t.Fatalf("second turn must play second, got %q", got)
	}

	var sawFirstReply bool
	for _, turn := range pipe.history("segunda") {
		if turn.Speaker == conversation.SpeakerAdvisor && turn.Text == "respuesta a primera" {
			sawFirstReply = true
		}
	}
	if !sawFirstReply {
		t.Fatalf("second turn generated without the first reply in history: %+v", pipe.history("segunda"))
	}

	tracker.Dispatch(ctx, endEvent("call-1"))
	completed := waitCompleted(t, bus)
	var clientTurns []string
	for _, turn := range completed.Transcript {
		if turn.Speaker == conversation.SpeakerClient {
			clientTurns = append(clientTurns, turn.Text)
		}
	}
	if len(clientTurns) != 2 || clientTurns[0] != "primera" || clientTurns[1] != "segunda" {
		t.Fatalf("client turns out of order: %v", clientTurns)
	}
}

func TestPlaybackFailureFailsCall(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	tel.failPlay = true
	bus := newRecordingBus()
	tracker := newTestTracker(tel, &fakePipeline{}, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))

	completed := waitCompleted(t, bus)
	if completed.CallID != "call-1" {
		t.Fatalf("unexpected completion: %+v", completed)
	}

	tel.mu.Lock()
	hangups := len(tel.hangups)
	tel.mu.Unlock()
	if hangups != 1 {
		t.Fatalf("expected hangup after failed playback, got %d", hangups)
	}

	deadline := time.Now().Add(waitTimeout)
	for len(tracker.Snapshot()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed call still tracked")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReaperPlaysClosingForAnsweredCalls(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := NewTracker(Config{MaxCallDuration: time.Nanosecond}, tel, &fakePipeline{}, nil, bus, logger.New("test"))

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	waitPlayed(t, tel) // greeting
	time.Sleep(time.Millisecond)

	tracker.reapStale(ctx)
	if got := waitPlayed(t, tel); got != "audio/closing.mp3" {
		t.Fatalf("expected closing line before forced hangup, got %q", got)
	}
	waitCompleted(t, bus)

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if len(tel.hangups) != 1 {
		t.Fatalf("expected reaper hangup, got %v", tel.hangups)
	}
}

func TestLateReplyDiscardedAfterEnd(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	pipe := &fakePipeline{blockOn: "lenta", release: make(chan struct{})}
	tracker := newTestTracker(tel, pipe, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	waitPlayed(t, tel) // greeting

	tracker.Dispatch(ctx, speechEvent("call-1", "lenta"))
	// The call ends while the reply is still being generated.
	tracker.Dispatch(ctx, endEvent("call-1"))
	waitCompleted(t, bus)

	close(pipe.release)
	time.Sleep(50 * time.Millisecond)
	if got := tel.playedCount(); got != 1 {
		t.Fatalf("late reply must not play; playback count = %d", got)
	}
}

// textOnlyPipeline simulates synthesis being unavailable: replies carry
// text but no audio reference.
type textOnlyPipeline struct {
	fakePipeline
}

func (p *textOnlyPipeline) RespondTo(ctx context.Context, history []conversation.Turn, clientText string) (*conversation.Reply, error) {
	return &conversation.Reply{Text: "respuesta a " + clientText}, nil
}

func TestReplyWithoutAudioSkipsPlaybackButKeepsTurn(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := newTestTracker(tel, &textOnlyPipeline{}, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	waitPlayed(t, tel) // greeting still has audio

	tracker.Dispatch(ctx, speechEvent("call-1", "hola"))
	// No playback for the text-only reply; give the worker a moment.
	time.Sleep(50 * time.Millisecond)
	tracker.Dispatch(ctx, endEvent("call-1"))
	completed := waitCompleted(t, bus)

	if got := tel.playedCount(); got != 1 {
		t.Fatalf("text-only reply must not play; playback count = %d", got)
	}
	var advisorTurns int
	for _, turn := range completed.Transcript {
		if turn.Speaker == conversation.SpeakerAdvisor {
			advisorTurns++
		}
	}
	if advisorTurns != 2 {
		t.Fatalf("expected greeting plus text-only reply in transcript, got %d advisor turns", advisorTurns)
	}
}

func TestEventsStayOrderedPerCall(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := newTestTracker(tel, &fakePipeline{}, bus)

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))
	tracker.Dispatch(ctx, answerEvent("call-1"))
	waitPlayed(t, tel)
	for i := 0; i < 3; i++ {
		tracker.Dispatch(ctx, speechEvent("call-1", fmt.Sprintf("frase %d", i)))
		waitPlayed(t, tel)
	}
	tracker.Dispatch(ctx, endEvent("call-1"))
	completed := waitCompleted(t, bus)

	var clientTurns []string
	for _, turn := range completed.Transcript {
		if turn.Speaker == conversation.SpeakerClient {
			clientTurns = append(clientTurns, turn.Text)
		}
	}
	want := []string{"frase 0", "frase 1", "frase 2"}
	if len(clientTurns) != len(want) {
		t.Fatalf("expected %d client turns, got %v", len(want), clientTurns)
	}
	for i := range want {
		if clientTurns[i] != want[i] {
			t.Fatalf("client turns out of order: %v", clientTurns)
		}
	}
}

func TestReaperEndsStaleCalls(t *testing.T) {
	ctx := context.Background()
	tel := newFakeTelephony()
	bus := newRecordingBus()
	tracker := NewTracker(Config{MaxCallDuration: time.Nanosecond}, tel, &fakePipeline{}, nil, bus, logger.New("test"))

	tracker.Expect("call-old", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-old"))
	time.Sleep(time.Millisecond)

	tracker.reapStale(ctx)
	completed := waitCompleted(t, bus)
	if completed.CallID != "call-old" {
		t.Fatalf("expected reaped call completion, got %+v", completed)
	}

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if len(tel.hangups) != 1 {
		t.Fatalf("expected reaper hangup, got %v", tel.hangups)
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(newFakeTelephony(), &fakePipeline{}, newRecordingBus())

	tracker.Expect("call-1", "lead-1", "Ana", "+34600111222")
	tracker.Dispatch(ctx, startEvent("call-1"))

	deadline := time.Now().Add(waitTimeout)
	for {
		calls := tracker.Snapshot()
		if len(calls) == 1 {
			if calls[0].CallID != "call-1" || calls[0].LeadID != "lead-1" {
				t.Fatalf("unexpected snapshot: %+v", calls)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for tracked call in snapshot")
		}
		time.Sleep(time.Millisecond)
	}

	tracker.Close()
	if calls := tracker.Snapshot(); len(calls) != 0 {
		t.Fatalf("expected empty snapshot after close, got %+v", calls)
	}
}
