package calls

import (
	"fmt"
	"sync"
	"time"

	"phoneagent_backend/internal/conversation"
	"phoneagent_backend/internal/events"
)

// State is the tracker-side lifecycle of one call.
type State string

const (
	StateDialing        State = "dialing"
	StateRinging        State = "ringing"
	StateAnswered       State = "answered"
	StateInConversation State = "in_conversation"
	StateVoicemail      State = "voicemail"
	StateFailed         State = "failed"
	StateEnded          State = "ended"
)

// Session is the mutable record of one active call. The worker goroutine
// owns all transitions; mu guards the mutable fields because the status
// endpoint and the reaper read them from other goroutines.
type Session struct {
	CallID    string
	LeadID    string
	LeadName  string
	Phone     string
	StartedAt time.Time

	mu         sync.RWMutex
	State      State
	Voicemail  bool
	AnsweredAt *time.Time
	EndedAt    *time.Time
	Transcript []events.TranscriptTurn
}

// NewSession registers a dialing call for the given lead.
func NewSession(callID, leadID, leadName, phone string, startedAt time.Time) *Session {
	return &Session{
		CallID:    callID,
		LeadID:    leadID,
		LeadName:  leadName,
		Phone:     phone,
		State:     StateDialing,
		StartedAt: startedAt,
	}
}

// Terminal reports whether the session has reached a final state.
// Events arriving after this point are discarded.
func (s *Session) Terminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminal()
}

func (s *Session) terminal() bool {
	return s.State == StateEnded || s.State == StateFailed
}

// MarkRinging records the gateway's start notification.
func (s *Session) MarkRinging() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateDialing {
		s.State = StateRinging
	}
}

// MarkAnswered records pickup. Answering twice is tolerated; the first
// timestamp wins.
func (s *Session) MarkAnswered(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case StateDialing, StateRinging:
		s.State = StateAnswered
		s.AnsweredAt = &at
		return nil
	case StateAnswered, StateInConversation:
		return nil
	}
	return fmt.Errorf("call %s answered in state %s", s.CallID, s.State)
}

// MarkVoicemail records answering machine pickup. The flag survives
// the transition to ended so the outcome classifies correctly.
func (s *Session) MarkVoicemail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Voicemail = true
	if !s.terminal() {
		s.State = StateVoicemail
	}
}

// MarkFailed records a transport failure. Terminal from any state.
func (s *Session) MarkFailed(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.State = StateFailed
	s.EndedAt = &at
}

// MarkEnded moves the session to its terminal state.
func (s *Session) MarkEnded(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.State = StateEnded
	s.EndedAt = &at
}

// AddTurn appends an exchange to the transcript and, on the first
// client turn, moves the call into conversation.
func (s *Session) AddTurn(speaker, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Transcript = append(s.Transcript, events.TranscriptTurn{
		Speaker: speaker,
		Text:    text,
		At:      at,
	})
	if speaker == conversation.SpeakerClient && s.State == StateAnswered {
		s.State = StateInConversation
	}
}

// History converts the transcript to the conversation pipeline's turn
// format.
func (s *Session) History() []conversation.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]conversation.Turn, 0, len(s.Transcript))
	for _, turn := range s.Transcript {
		history = append(history, conversation.Turn{Speaker: turn.Speaker, Text: turn.Text})
	}
	return history
}

// Answered reports whether a human picked up at any point.
func (s *Session) Answered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AnsweredAt != nil
}

// View is a consistent read of the mutable fields for status reporting
// from outside the worker goroutine.
type View struct {
	State    State
	Turns    int
	Answered bool
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		State:    s.State,
		Turns:    len(s.Transcript),
		Answered: s.AnsweredAt != nil,
	}
}

// Duration is the wall time from dial start to end, or to now for a
// live call.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
