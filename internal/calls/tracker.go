package calls

import (
	"context"
	"sync"
	"time"

	"phoneagent_backend/internal/conversation"
	"phoneagent_backend/internal/events"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/logger"
)

// Telephony is the subset of gateway operations the tracker drives
// during a live call.
type Telephony interface {
	PlayAudio(ctx context.Context, callID, audioURL string) error
	Hangup(ctx context.Context, callID string) error
}

// Pipeline is the conversation side the tracker calls into. Satisfied
// by *conversation.Pipeline.
type Pipeline interface {
	Greeting(ctx context.Context, leadName string) (*conversation.Reply, error)
	RespondTo(ctx context.Context, history []conversation.Turn, clientText string) (*conversation.Reply, error)
	Closing(ctx context.Context) (*conversation.Reply, error)
	ClassifyConversation(ctx context.Context, transcript []conversation.Turn) domain.Outcome
}

// TranscriptWriter persists the transcript of a finished call.
type TranscriptWriter interface {
	Write(session *Session, outcome string) error
}

const eventBufferSize = 32

// callWorker owns one session. Its goroutine consumes events from the
// channel one at a time, so per-call ordering is the channel order
// while separate calls proceed independently. While a reply is being
// generated only its result and CallEnded may proceed; everything else
// waits in deferred so turns never interleave within one call.
type callWorker struct {
	session  *Session
	ch       chan Event
	quit     chan struct{}
	done     chan struct{}
	awaiting bool
	deferred []Event
}

// Tracker is the active-call table. Webhook events are routed to the
// per-call worker; unknown call ids are logged and dropped.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]*callWorker
	pending map[string]pendingCall

	telephony   Telephony
	pipeline    Pipeline
	transcripts TranscriptWriter
	bus         events.Bus
	log         *logger.Logger

	maxCallDuration time.Duration
	closing         bool
	wg              sync.WaitGroup
}

type pendingCall struct {
	leadID string
	name   string
	phone  string
}

// Config for the tracker.
type Config struct {
	MaxCallDuration time.Duration
}

func NewTracker(cfg Config, telephony Telephony, pipeline Pipeline, transcripts TranscriptWriter, bus events.Bus, log *logger.Logger) *Tracker {
	maxDur := cfg.MaxCallDuration
	if maxDur <= 0 {
		maxDur = 10 * time.Minute
	}
	return &Tracker{
		active:          make(map[string]*callWorker),
		pending:         make(map[string]pendingCall),
		telephony:       telephony,
		pipeline:        pipeline,
		transcripts:     transcripts,
		bus:             bus,
		log:             log,
		maxCallDuration: maxDur,
	}
}

// Expect associates a just-placed call id with its lead, before any
// webhook for it arrives. Events for unexpected ids are dropped, so the
// dispatcher must register every call it places.
func (t *Tracker) Expect(callID, leadID, name, phone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[callID] = pendingCall{leadID: leadID, name: name, phone: phone}
}

// Dispatch routes an event to its call worker. CallStarted creates the
// worker; any other event for an untracked id is dropped with a
// warning. Dispatch never blocks on conversation work, only on a full
// per-call buffer.
func (t *Tracker) Dispatch(ctx context.Context, ev Event) {
	if ev == nil {
		return
	}
	callID := ev.CallID()
	if callID == "" {
		t.log.Warn("dropping call event without call id")
		return
	}

	t.mu.Lock()
	worker, ok := t.active[callID]
	if !ok {
		if _, isStart := ev.(CallStarted); !isStart {
			t.mu.Unlock()
			t.log.Warn("dropping event for unknown call", "call_id", callID)
			return
		}
		if t.closing {
			t.mu.Unlock()
			return
		}
		worker = t.startWorker(ctx, ev.(CallStarted))
	}
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case worker.ch <- ev:
	case <-worker.done:
		// worker already finished this call
	case <-ctx.Done():
	}
}

// startWorker must be called with t.mu held.
func (t *Tracker) startWorker(ctx context.Context, start CallStarted) *callWorker {
	callID := start.CallID()
	info := t.pending[callID]
	delete(t.pending, callID)

	phone := info.phone
	if phone == "" {
		phone = start.CalleeID
	}

	worker := &callWorker{
		session: NewSession(callID, info.leadID, info.name, phone, start.At()),
		ch:      make(chan Event, eventBufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.active[callID] = worker
	t.wg.Add(1)
	go t.runWorker(ctx, worker)

	t.log.CallEvent("call_tracked", callID)
	return worker
}

func (t *Tracker) runWorker(ctx context.Context, w *callWorker) {
	defer t.wg.Done()
	defer close(w.done)

	for !w.session.Terminal() {
		select {
		case ev := <-w.ch:
			t.consume(ctx, w, ev)
		case <-w.quit:
			// drain queued events, then stop
			for {
				select {
				case ev := <-w.ch:
					t.consume(ctx, w, ev)
					if w.session.Terminal() {
						t.removeWorker(w)
						return
					}
				default:
					t.removeWorker(w)
					return
				}
			}
		}
	}

	t.removeWorker(w)
}

// consume applies one event, honoring the await-reply rule: once a
// reply is being generated, only its replyReady and CallEnded are
// processed; every other event for this call is buffered and replayed
// in arrival order after the reply resolves. Speech for turn N+1 can
// therefore never produce a reply before turn N's reply has played.
func (t *Tracker) consume(ctx context.Context, w *callWorker, ev Event) {
	if w.awaiting {
		switch ev.(type) {
		case replyReady, CallEnded:
		default:
			w.deferred = append(w.deferred, ev)
			return
		}
	}
	t.handleEvent(ctx, w, ev)

	for !w.awaiting && len(w.deferred) > 0 && !w.session.Terminal() {
		next := w.deferred[0]
		w.deferred = w.deferred[1:]
		t.handleEvent(ctx, w, next)
	}
}

func (t *Tracker) removeWorker(w *callWorker) {
	t.mu.Lock()
	delete(t.active, w.session.CallID)
	t.mu.Unlock()
}

// replyReady re-enters the worker loop when background reply
// generation finishes. Keeping playback on the worker goroutine means
// session state never sees concurrent writes, while a CallEnded that
// arrives mid-generation is processed first and the late reply is
// discarded.
type replyReady struct {
	baseEvent
	reply *conversation.Reply
	err   error
}

// handleEvent applies one event to the session. The switch is
// exhaustive over the event set; extending Event means extending this.
func (t *Tracker) handleEvent(ctx context.Context, w *callWorker, ev Event) {
	session := w.session
	log := t.log.WithCallID(session.CallID)

	switch e := ev.(type) {
	case CallStarted:
		session.MarkRinging()
		log.CallEvent("ringing", session.CallID)

	case ClientAnswered:
		if err := session.MarkAnswered(e.At()); err != nil {
			log.Warn("ignoring answer event", "error", err)
			return
		}
		log.CallEvent("answered", session.CallID)
		t.generateReply(ctx, w, func() (*conversation.Reply, error) {
			return t.pipeline.Greeting(ctx, session.LeadName)
		})

	case SpeechDetected:
		if !session.Answered() {
			log.Warn("speech before answer, treating call as answered")
			_ = session.MarkAnswered(e.At())
		}
		history := session.History()
		session.AddTurn(conversation.SpeakerClient, e.Transcript, e.At())
		t.generateReply(ctx, w, func() (*conversation.Reply, error) {
			return t.pipeline.RespondTo(ctx, history, e.Transcript)
		})

	case replyReady:
		w.awaiting = false
		if e.err != nil {
			log.Error("failed to produce advisor reply", "error", e.err)
			return
		}
		if session.Terminal() || session.Voicemail {
			log.Debug("discarding reply for finished call", "text", e.reply.Text)
			return
		}
		if e.reply.AudioURL != "" {
			if err := t.telephony.PlayAudio(ctx, session.CallID, e.reply.AudioURL); err != nil {
				log.Error("playback failed, ending call", "error", err)
				session.MarkFailed(time.Now())
				if herr := t.telephony.Hangup(ctx, session.CallID); herr != nil {
					log.Warn("hangup after failed playback failed", "error", herr)
				}
				t.finalize(ctx, session)
				return
			}
		}
		session.AddTurn(conversation.SpeakerAdvisor, e.reply.Text, time.Now())

	case VoicemailDetected:
		session.MarkVoicemail()
		log.CallEvent("voicemail", session.CallID)
		// Policy: do not talk to machines. Hang up and move on.
		if err := t.telephony.Hangup(ctx, session.CallID); err != nil {
			log.Warn("voicemail hangup failed", "error", err)
		}

	case CallEnded:
		session.MarkEnded(e.At())
		log.CallEvent("ended", session.CallID)
		t.finalize(ctx, session)

	default:
		log.Warn("unhandled call event type")
	}
}

// generateReply runs the conversation pipeline off the worker
// goroutine and feeds the result back through the event channel. The
// worker defers further speech until the result arrives.
func (t *Tracker) generateReply(ctx context.Context, w *callWorker, generate func() (*conversation.Reply, error)) {
	w.awaiting = true
	callID := w.session.CallID
	go func() {
		reply, err := generate()
		ready := replyReady{
			baseEvent: baseEvent{ID: callID, Time: time.Now()},
			reply:     reply,
			err:       err,
		}
		select {
		case w.ch <- ready:
		case <-w.done:
		case <-ctx.Done():
		}
	}()
}

func (t *Tracker) finalize(ctx context.Context, session *Session) {
	outcome := t.classify(ctx, session)

	if t.transcripts != nil && len(session.Transcript) > 0 {
		if err := t.transcripts.Write(session, string(outcome)); err != nil {
			t.log.Error("failed to export transcript", "call_id", session.CallID, "error", err)
		}
	}

	endedAt := time.Now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	t.bus.Publish(ctx, events.CallCompleted{
		BaseEvent:  events.NewBaseEvent(),
		CallID:     session.CallID,
		LeadID:     session.LeadID,
		Phone:      session.Phone,
		Outcome:    string(outcome),
		AnsweredAt: session.AnsweredAt,
		EndedAt:    endedAt,
		Duration:   session.Duration(),
		Transcript: session.Transcript,
	})
}

func (t *Tracker) classify(ctx context.Context, session *Session) string {
	switch {
	case session.Voicemail:
		return "voicemail"
	case !session.Answered():
		return "no_answer"
	case len(session.Transcript) == 0:
		return "answered"
	default:
		return string(t.pipeline.ClassifyConversation(ctx, session.History()))
	}
}

// ActiveCall is a read-only snapshot row for the status endpoint.
type ActiveCall struct {
	CallID    string    `json:"callId"`
	LeadID    string    `json:"leadId,omitempty"`
	Phone     string    `json:"phone"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Turns     int       `json:"turns"`
}

// Snapshot lists currently tracked calls.
func (t *Tracker) Snapshot() []ActiveCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveCall, 0, len(t.active))
	for _, w := range t.active {
		view := w.session.View()
		out = append(out, ActiveCall{
			CallID:    w.session.CallID,
			LeadID:    w.session.LeadID,
			Phone:     w.session.Phone,
			State:     view.State,
			StartedAt: w.session.StartedAt,
			Turns:     view.Turns,
		})
	}
	return out
}

// RunReaper ends calls that exceed the maximum duration. The gateway
// normally sends NOTIFY_END; the reaper covers lost webhooks so
// sessions cannot leak. Blocks until ctx is done.
func (t *Tracker) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reapStale(ctx)
		}
	}
}

func (t *Tracker) reapStale(ctx context.Context) {
	t.mu.Lock()
	var stale []*callWorker
	for _, w := range t.active {
		if time.Since(w.session.StartedAt) > t.maxCallDuration {
			stale = append(stale, w)
		}
	}
	t.mu.Unlock()

	for _, w := range stale {
		callID := w.session.CallID
		t.log.Warn("reaping call past max duration", "call_id", callID)
		if w.session.Answered() {
			t.playClosing(ctx, callID)
		}
		if err := t.telephony.Hangup(ctx, callID); err != nil {
			t.log.Warn("reaper hangup failed", "call_id", callID, "error", err)
		}
		ended := CallEnded{baseEvent: baseEvent{ID: callID, Time: time.Now()}, Disposition: "reaped"}
		select {
		case w.ch <- ended:
		case <-w.done:
		case <-ctx.Done():
		}
	}
}

// playClosing speaks the goodbye line before a forced hangup.
func (t *Tracker) playClosing(ctx context.Context, callID string) {
	reply, err := t.pipeline.Closing(ctx)
	if err != nil {
		t.log.Warn("closing line generation failed", "call_id", callID, "error", err)
		return
	}
	if reply.AudioURL == "" {
		return
	}
	if err := t.telephony.PlayAudio(ctx, callID, reply.AudioURL); err != nil {
		t.log.Warn("closing playback failed", "call_id", callID, "error", err)
	}
}

// Close stops accepting new calls and waits for in-flight workers to
// drain their queued events.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closing = true
	workers := make([]*callWorker, 0, len(t.active))
	for _, w := range t.active {
		workers = append(workers, w)
	}
	t.mu.Unlock()

	for _, w := range workers {
		close(w.quit)
	}
	t.wg.Wait()
}
