// Package conversation turns client speech into advisor audio. The
// pipeline generates a reply, synthesizes it, and hands the audio URL
// back to the call tracker for playback.
package conversation

import (
	"context"
	"strings"

	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/logger"
)

// Responder produces the advisor's spoken lines. Implemented by the
// LLM advisor agent.
type Responder interface {
	Greet(ctx context.Context, leadName string) (string, error)
	Generate(ctx context.Context, history []Turn, clientText string) (string, error)
}

// Synthesizer converts a line of text into a playable audio file and
// returns its public URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Classifier judges a finished conversation. Implemented by the LLM
// advisor agent.
type Classifier interface {
	Classify(ctx context.Context, transcript []Turn) (domain.Outcome, error)
}

// Turn is one exchange in the running conversation.
type Turn struct {
	Speaker string // "client" or "advisor"
	Text    string
}

const (
	SpeakerClient  = "client"
	SpeakerAdvisor = "advisor"
)

// Script holds the fixed lines the pipeline falls back to when the
// response engine is unavailable.
type Script struct {
	Greeting string
	Fallback string
	Closing  string
}

// Reply is a generated advisor line with its synthesized audio.
type Reply struct {
	Text     string
	AudioURL string
}

// Pipeline wires the responder and synthesizer behind the fallback
// script. A nil responder is valid; every reply then uses the script.
type Pipeline struct {
	responder  Responder
	tts        Synthesizer
	classifier Classifier
	script     Script
	log        *logger.Logger
}

func NewPipeline(responder Responder, tts Synthesizer, script Script, log *logger.Logger) *Pipeline {
	return &Pipeline{
		responder: responder,
		tts:       tts,
		script:    script,
		log:       log,
	}
}

// SetClassifier installs the engine-backed outcome classifier. Without
// one, ClassifyConversation uses the marker heuristics only.
func (p *Pipeline) SetClassifier(c Classifier) {
	p.classifier = c
}

// Greeting produces the opening line for a freshly answered call,
// addressed to the lead by name. Responder failures degrade to the
// scripted greeting.
func (p *Pipeline) Greeting(ctx context.Context, leadName string) (*Reply, error) {
	text := p.script.Greeting
	if p.responder != nil {
		generated, err := p.responder.Greet(ctx, leadName)
		if err != nil {
			p.log.Warn("greeting generation failed, using scripted greeting", "error", err)
		} else if strings.TrimSpace(generated) != "" {
			text = strings.TrimSpace(generated)
		}
	}
	return p.synthesize(ctx, text)
}

// RespondTo generates and synthesizes the advisor's answer to the
// client's latest utterance. Responder failures degrade to the scripted
// fallback line instead of killing the call.
func (p *Pipeline) RespondTo(ctx context.Context, history []Turn, clientText string) (*Reply, error) {
	text := p.script.Fallback
	if p.responder != nil {
		generated, err := p.responder.Generate(ctx, history, clientText)
		if err != nil {
			p.log.Warn("response generation failed, using scripted fallback", "error", err)
		} else if strings.TrimSpace(generated) != "" {
			text = strings.TrimSpace(generated)
		}
	}
	return p.synthesize(ctx, text)
}

// Closing produces the goodbye line played before hangup.
func (p *Pipeline) Closing(ctx context.Context) (*Reply, error) {
	return p.synthesize(ctx, p.script.Closing)
}

func (p *Pipeline) synthesize(ctx context.Context, text string) (*Reply, error) {
	audioURL, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		// A lost audio asset must not kill the call. The turn is kept
		// and playback skipped.
		p.log.Warn("speech synthesis failed, playback will be skipped", "error", err)
		return &Reply{Text: text}, nil
	}
	return &Reply{Text: text, AudioURL: audioURL}, nil
}

// ClassifyConversation labels the finished conversation. The engine
// classifier is asked first; marker heuristics cover a missing or
// failing engine.
func (p *Pipeline) ClassifyConversation(ctx context.Context, transcript []Turn) domain.Outcome {
	if p.classifier != nil {
		outcome, err := p.classifier.Classify(ctx, transcript)
		if err == nil {
			return outcome
		}
		p.log.Warn("outcome classification failed, using marker heuristics", "error", err)
	}
	return ClassifyOutcome(transcript)
}

// interestMarkers are phrases that signal a positive reaction. Matching
// is deliberately loose; the classification only steers follow-up
// priority, nothing contractual.
var interestMarkers = []string{
	"me interesa", "sí, me interesa", "interesante", "quiero saber más",
	"cuánto cuesta", "cuanto cuesta", "más información", "mas informacion",
	"de acuerdo", "sí, claro",
}

var rejectionMarkers = []string{
	"no me interesa", "no, gracias", "no gracias", "no quiero",
	"no llame", "no llames", "deje de llamar", "quite mi número",
	"quite mi numero",
}

// ClassifyOutcome inspects the client's side of a finished conversation
// and labels the lead's disposition. Calls with no clear signal default
// to not interested.
func ClassifyOutcome(transcript []Turn) domain.Outcome {
	for _, turn := range transcript {
		if turn.Speaker != SpeakerClient {
			continue
		}
		text := strings.ToLower(turn.Text)
		for _, marker := range rejectionMarkers {
			if strings.Contains(text, marker) {
				return domain.OutcomeNotInterested
			}
		}
	}
	for _, turn := range transcript {
		if turn.Speaker != SpeakerClient {
			continue
		}
		text := strings.ToLower(turn.Text)
		for _, marker := range interestMarkers {
			if strings.Contains(text, marker) {
				return domain.OutcomeInterested
			}
		}
	}
	return domain.OutcomeNotInterested
}
