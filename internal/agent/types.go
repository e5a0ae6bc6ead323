// Package agent runs the multi-agent routing graph that turns a prompt into
// a generated response. Requests are moderated, routed to a main or followup
// agent, and rerouted to a fallback agent when the chosen agent fails.
package agent

import "time"

// Type is an agent role.
type Type string

const (
	TypeMain       Type = "main"
	TypeFallback   Type = "fallback"
	TypeFollowup   Type = "followup"
	TypeModeration Type = "moderation"
)

// Node is a routing graph node.
type Node string

const (
	NodeModeration Node = "moderation"
	NodeRouter     Node = "router"
	NodeMain       Node = "main_agent"
	NodeFollowup   Node = "followup_agent"
	NodeFallback   Node = "fallback_agent"
	NodeEnd        Node = "end"
)

// Outcome is the result of running one node.
type Outcome string

const (
	OutcomeOK   Outcome = "ok"
	OutcomeFail Outcome = "fail"

	// Router outcomes name the chosen agent.
	OutcomeToMain     Outcome = "to_main"
	OutcomeToFollowup Outcome = "to_followup"
	OutcomeToFallback Outcome = "to_fallback"
)

// transitions is the complete edge set of the routing graph. Each node's
// outcome picks the next node; the fallback agent is the error sink for the
// main and followup agents, and its own failure ends the run.
var transitions = map[Node]map[Outcome]Node{
	NodeModeration: {
		OutcomeOK: NodeRouter,
	},
	NodeRouter: {
		OutcomeToMain:     NodeMain,
		OutcomeToFollowup: NodeFollowup,
		OutcomeToFallback: NodeFallback,
	},
	NodeMain: {
		OutcomeOK:   NodeEnd,
		OutcomeFail: NodeFallback,
	},
	NodeFollowup: {
		OutcomeOK:   NodeEnd,
		OutcomeFail: NodeFallback,
	},
	NodeFallback: {
		OutcomeOK:   NodeEnd,
		OutcomeFail: NodeEnd,
	},
}

// moderationCategories are the policy areas the moderation agent checks.
var moderationCategories = []string{
	"harassment",
	"hate",
	"self_harm",
	"sexual",
	"violence",
	"spam",
}

// followupIndicators mark a prompt as continuing an earlier conversation.
var followupIndicators = []string{
	"what about",
	"can you explain",
	"tell me more",
	"and then",
	"what else",
	"continue",
	"go on",
	"more details",
	"elaborate",
}

// ModerationResult is the parsed verdict of the moderation agent.
type ModerationResult struct {
	IsSafe     bool     `json:"is_safe"`
	Violations []string `json:"violations"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// RoleConfig is the resolved backend configuration for one agent role.
type RoleConfig struct {
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	// Breaker names the circuit breaker guarding this role's backend calls.
	Breaker string
}

// Profile holds the resolved configuration of every role for one run.
type Profile struct {
	Main       RoleConfig
	Fallback   RoleConfig
	Followup   RoleConfig
	Moderation RoleConfig
}

// RunInput is one request into the routing graph.
type RunInput struct {
	Prompt string
	// IsFollowup forces routing to the followup agent.
	IsFollowup bool
	// PreviousTopic, when set, is added to the agent's context.
	PreviousTopic string
	// SkipModeration bypasses the moderation check.
	SkipModeration bool
}

// Result is a completed graph run.
type Result struct {
	Text   string
	Tokens int64
	Agent  Type
}

// runState carries data between nodes during one run.
type runState struct {
	input      RunInput
	moderation *ModerationResult
	agent      Type
	response   string
	tokens     int64
	err        error
}

func (s *runState) moderationFlagged() bool {
	return s.moderation != nil && !s.moderation.IsSafe
}
