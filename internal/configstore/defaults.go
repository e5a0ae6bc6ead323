package configstore

import "time"

// Role names resolved by the processor when building an agent profile.
const (
	TemplateMainAgent       = "main-agent"
	TemplateFallbackAgent   = "fallback-agent"
	TemplateFollowupAgent   = "followup-agent"
	TemplateModerationAgent = "moderation-agent"
)

// DefaultModel and DefaultTemplate are used when a job does not name its
// configuration.
const (
	DefaultModel    = "default-smart"
	DefaultTemplate = "default-assistant"
)

// Default returns a store seeded with the built-in models and templates.
func Default() *Store {
	s := &Store{
		models:    make(map[string]ModelConfig),
		templates: make(map[string]AgentTemplate),
	}

	for _, m := range []ModelConfig{
		{
			Name:        DefaultModel,
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			Temperature: 0.7,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
		},
		{
			Name:        "default-fast",
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-latest",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			Temperature: 0.3,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
	} {
		s.models[m.Name] = m
	}

	for _, t := range []AgentTemplate{
		{
			Name:         DefaultTemplate,
			AgentType:    "main",
			SystemPrompt: "You are a helpful AI assistant.",
		},
		{
			Name:         TemplateMainAgent,
			AgentType:    "main",
			SystemPrompt: "You are a helpful AI assistant.",
		},
		{
			Name:      TemplateFallbackAgent,
			AgentType: "fallback",
			SystemPrompt: "You are a backup assistant providing simple, safe responses. " +
				"If the previous response was incomplete or had issues, provide a simpler, more direct answer.",
		},
		{
			Name:         TemplateFollowupAgent,
			AgentType:    "followup",
			SystemPrompt: "You are a conversational assistant helping with follow-up questions.",
		},
		{
			Name:         TemplateModerationAgent,
			AgentType:    "moderation",
			SystemPrompt: "You are a content moderation assistant. Analyze messages for policy violations.",
			ModelConfig:  "default-fast",
			Temperature:  0.1,
		},
	} {
		s.templates[t.Name] = withTemplateDefaults(t)
	}

	return s
}
