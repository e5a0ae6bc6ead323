package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jonesrussell/gogen/internal/llm"
	"github.com/jonesrussell/gogen/internal/logger"
	"github.com/jonesrussell/gogen/internal/validator"
)

const moderationPromptFormat = `Analyze the following message for content policy violations.
Check for: %s.

Message to analyze: %q

Respond in JSON format with:
{
    "is_safe": true/false,
    "violations": ["list of violation categories if any"],
    "confidence": 0.0-1.0,
    "reason": "brief explanation if not safe"
}`

// policyViolationResponse is returned without a backend call when moderation
// flags the request.
const policyViolationResponse = "I apologize, but I'm unable to process this request as it may " +
	"violate content policies. Please rephrase your question and try again."

var moderationVerdictPattern = regexp.MustCompile(`\{[^{}]*\}`)

// runModeration asks the moderation agent for a safety verdict. Moderation
// never fails the run: backend errors and unparseable verdicts let the
// request through, the verdict only influences routing.
func (g *Graph) runModeration(ctx context.Context, profile Profile, state *runState) Outcome {
	if state.input.SkipModeration {
		return OutcomeOK
	}

	role := profile.Moderation
	prompt := fmt.Sprintf(moderationPromptFormat, strings.Join(moderationCategories, ", "), state.input.Prompt)

	resp, err := g.callBackend(ctx, role, "moderation backend call", llm.Request{
		Model:       role.Model,
		System:      role.SystemPrompt,
		Prompt:      prompt,
		MaxTokens:   role.MaxTokens,
		Temperature: role.Temperature,
	})
	if err != nil {
		g.logger.Warn("moderation check failed, allowing request through", logger.Error(err))
		state.moderation = &ModerationResult{
			IsSafe:     true,
			Confidence: 0,
			Reason:     fmt.Sprintf("moderation check failed: %v", err),
		}
		return OutcomeOK
	}

	state.moderation = parseModerationVerdict(resp.Text)
	g.logger.Debug("moderation verdict",
		logger.Bool("is_safe", state.moderation.IsSafe),
		logger.Strings("violations", state.moderation.Violations),
	)
	return OutcomeOK
}

// parseModerationVerdict extracts the JSON verdict from the raw response. An
// unparseable response defaults to safe.
func parseModerationVerdict(text string) *ModerationResult {
	match := moderationVerdictPattern.FindString(text)
	if match == "" {
		return &ModerationResult{IsSafe: true, Confidence: 0.5, Reason: "unable to parse moderation verdict"}
	}

	var verdict ModerationResult
	if err := json.Unmarshal([]byte(match), &verdict); err != nil {
		return &ModerationResult{IsSafe: true, Confidence: 0.5, Reason: "unable to parse moderation verdict"}
	}
	return &verdict
}

// runRouter picks the agent for this request. A moderation violation always
// wins; followup routing comes from the caller's flag or indicator phrases
// in the prompt.
func (g *Graph) runRouter(state *runState) Outcome {
	if state.moderationFlagged() {
		g.logger.Info("routing to fallback agent after moderation violation",
			logger.Strings("violations", state.moderation.Violations))
		return OutcomeToFallback
	}

	if state.input.IsFollowup {
		return OutcomeToFollowup
	}

	prompt := strings.ToLower(state.input.Prompt)
	for _, indicator := range followupIndicators {
		if strings.Contains(prompt, indicator) {
			g.logger.Debug("followup indicator detected", logger.String("indicator", indicator))
			return OutcomeToFollowup
		}
	}

	return OutcomeToMain
}

// runMain generates the primary response and validates it before accepting.
func (g *Graph) runMain(ctx context.Context, profile Profile, state *runState) Outcome {
	return g.runGeneratingAgent(ctx, profile.Main, TypeMain, "main agent backend call", state)
}

// runFollowup handles conversation continuations; same contract as runMain.
func (g *Graph) runFollowup(ctx context.Context, profile Profile, state *runState) Outcome {
	return g.runGeneratingAgent(ctx, profile.Followup, TypeFollowup, "followup agent backend call", state)
}

func (g *Graph) runGeneratingAgent(ctx context.Context, role RoleConfig, agentType Type, operation string, state *runState) Outcome {
	system := role.SystemPrompt
	if state.input.PreviousTopic != "" {
		system = fmt.Sprintf("%s\n\nThe previous conversation was about: %s", system, state.input.PreviousTopic)
	}

	resp, err := g.callBackend(ctx, role, operation, llm.Request{
		Model:       role.Model,
		System:      system,
		Prompt:      state.input.Prompt,
		MaxTokens:   role.MaxTokens,
		Temperature: role.Temperature,
	})
	if err != nil {
		g.logger.Warn("agent backend call failed",
			logger.String("agent", string(agentType)),
			logger.Error(err),
		)
		state.err = err
		return OutcomeFail
	}

	if verr := validator.Validate(resp.Text, validator.DefaultMinLength).Err(); verr != nil {
		g.logger.Warn("agent response rejected",
			logger.String("agent", string(agentType)),
			logger.Error(verr),
		)
		state.err = verr
		return OutcomeFail
	}

	state.agent = agentType
	state.response = resp.Text
	state.tokens = resp.TotalTokens()
	state.err = nil
	return OutcomeOK
}

// runFallback is the error sink. A moderation violation gets a static policy
// response without touching the backend; otherwise the fallback agent
// generates a simpler answer. If the fallback's own call fails, the run
// fails and the last error propagates.
func (g *Graph) runFallback(ctx context.Context, profile Profile, state *runState) Outcome {
	state.agent = TypeFallback

	if state.moderationFlagged() {
		state.response = policyViolationResponse
		state.tokens = 0
		state.err = nil
		return OutcomeOK
	}

	role := profile.Fallback
	resp, err := g.callBackend(ctx, role, "fallback agent backend call", llm.Request{
		Model:       role.Model,
		System:      role.SystemPrompt,
		Prompt:      state.input.Prompt,
		MaxTokens:   role.MaxTokens,
		Temperature: role.Temperature,
	})
	if err != nil {
		g.logger.Error("fallback agent failed", logger.Error(err))
		state.err = err
		return OutcomeFail
	}

	state.response = resp.Text
	state.tokens = resp.TotalTokens()
	state.err = nil
	return OutcomeOK
}
