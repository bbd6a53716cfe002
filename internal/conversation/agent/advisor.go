// Package agent hosts the LLM advisor that speaks with clients during
// outbound calls.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	adkagent "google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"phoneagent_backend/internal/conversation"
	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/ai/moonshot"
	"phoneagent_backend/platform/logger"
)

// Advisor generates the sales advisor's spoken lines. Each call turn
// runs in a fresh ephemeral session; conversation history travels in
// the prompt, so nothing leaks between calls.
type Advisor struct {
	runner         *runner.Runner
	sessionService session.Service
	appName        string
	script         string
	log            *logger.Logger
	runMu          sync.Mutex
}

// Config for the advisor agent.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Script  string
}

func NewAdvisor(cfg Config, log *logger.Logger) (*Advisor, error) {
	kimi := moonshot.NewModel(moonshot.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})

	advisor := &Advisor{
		appName:        "call_advisor",
		sessionService: session.InMemoryService(),
		script:         cfg.Script,
		log:            log,
	}

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "CallAdvisor",
		Model:       kimi,
		Description: "Energy sales advisor that holds short phone conversations with potential clients.",
		Instruction: advisorSystemPrompt(cfg.Script),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor agent: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        advisor.appName,
		Agent:          adkAgent,
		SessionService: advisor.sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor runner: %w", err)
	}
	advisor.runner = r

	return advisor, nil
}

// Greet opens the conversation once the client picks up. Implements
// conversation.Responder.
func (a *Advisor) Greet(ctx context.Context, leadName string) (string, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	output, err := a.executeAgentRun(ctx, uuid.New().String(), buildGreetingPrompt(leadName))
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(output)
	if line == "" {
		return "", fmt.Errorf("advisor produced no greeting")
	}
	return line, nil
}

// Generate produces the advisor's next line. Implements
// conversation.Responder.
func (a *Advisor) Generate(ctx context.Context, history []conversation.Turn, clientText string) (string, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	prompt := buildTurnPrompt(history, clientText)
	sessionID := uuid.New().String()

	output, err := a.executeAgentRun(ctx, sessionID, prompt)
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(output)
	if line == "" {
		return "", fmt.Errorf("advisor produced no text")
	}
	return line, nil
}

// Classify judges whether the client showed interest. Implements
// conversation.Classifier.
func (a *Advisor) Classify(ctx context.Context, transcript []conversation.Turn) (domain.Outcome, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	prompt := buildClassifyPrompt(transcript)
	sessionID := uuid.New().String()

	output, err := a.executeAgentRun(ctx, sessionID, prompt)
	if err != nil {
		return "", err
	}

	verdict := strings.ToUpper(output)
	if strings.Contains(verdict, "NO_INTERESADO") || strings.Contains(verdict, "NO INTERESADO") {
		return domain.OutcomeNotInterested, nil
	}
	if strings.Contains(verdict, "INTERESADO") {
		return domain.OutcomeInterested, nil
	}
	return domain.OutcomeNotInterested, nil
}

// executeAgentRun creates an ephemeral session, runs the agent, and
// returns the concatenated text output.
func (a *Advisor) executeAgentRun(ctx context.Context, sessionID, promptText string) (string, error) {
	const userID = "dialer"

	_, err := a.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   a.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer func() {
		if deleteErr := a.sessionService.Delete(ctx, &session.DeleteRequest{
			AppName:   a.appName,
			UserID:    userID,
			SessionID: sessionID,
		}); deleteErr != nil {
			a.log.Warn("failed to delete advisor session", "error", deleteErr)
		}
	}()

	userMessage := &genai.Content{
		Role: "user",
		Parts: []*genai.Part{
			{Text: promptText},
		},
	}

	runConfig := adkagent.RunConfig{
		StreamingMode: adkagent.StreamingModeNone,
	}

	var outputText string
	for event, err := range a.runner.Run(ctx, userID, sessionID, userMessage, runConfig) {
		if err != nil {
			return "", fmt.Errorf("advisor run failed: %w", err)
		}
		if event.Content != nil {
			for _, part := range event.Content.Parts {
				outputText += part.Text
			}
		}
	}

	return outputText, nil
}

func buildGreetingPrompt(leadName string) string {
	if leadName == "" {
		return "The call was just answered. Open the conversation. Reply with the advisor's greeting line only."
	}
	return fmt.Sprintf("The call was just answered by %s. Greet them by name and open the conversation. Reply with the greeting line only.", leadName)
}

func buildTurnPrompt(history []conversation.Turn, clientText string) string {
	var builder strings.Builder
	builder.WriteString("Conversation so far:\n")
	if len(history) == 0 {
		builder.WriteString("(none)\n")
	}
	for _, turn := range history {
		builder.WriteString(fmt.Sprintf("[%s]: %s\n", turn.Speaker, turn.Text))
	}
	builder.WriteString(fmt.Sprintf("\nThe client just said:\n\"%s\"\n\n", clientText))
	builder.WriteString("Reply with the advisor's next spoken line only.")
	return builder.String()
}

func buildClassifyPrompt(transcript []conversation.Turn) string {
	var builder strings.Builder
	builder.WriteString("The call has ended. Full conversation:\n")
	for _, turn := range transcript {
		builder.WriteString(fmt.Sprintf("[%s]: %s\n", turn.Speaker, turn.Text))
	}
	builder.WriteString("\nDid the client show interest in the offer? Answer with exactly one word: INTERESADO or NO_INTERESADO.")
	return builder.String()
}

func advisorSystemPrompt(script string) string {
	return fmt.Sprintf(`You are a polite Spanish-speaking energy sales advisor on a live phone call.

Campaign script:
%s

RULES:
1. Answer in Spanish, in one or two short sentences. Your text is converted to speech, so no lists, no markdown, no stage directions.
2. Follow the campaign script but react naturally to what the client says.
3. If the client is not interested, thank them and let the call wind down. Never argue.
4. Never invent prices or conditions that are not in the script.
5. Never reveal that you are an automated system unless the client asks directly.`, script)
}
