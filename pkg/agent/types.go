// Package agent runs the research loop: typed LLM calls decide tool
// invocations, results accumulate in the session context, and the loop
// terminates into a final structured answer.
package agent

import (
	"github.com/seekerhq/seeker/pkg/tools"
)

// AgentResponse is the typed reply the LLM must produce each
// iteration.
type AgentResponse struct {
	// AgentReasoning is the model's private chain of thought for this
	// step. Logged, never shown to the user.
	AgentReasoning string `json:"agent_reasoning"`

	// UserAnswer is the message surfaced to the user. On the final
	// iteration it is the markdown research report.
	UserAnswer string `json:"user_answer"`

	// Title names the research run. Expected on the final iteration.
	Title string `json:"title,omitempty"`

	// IsFinal marks UserAnswer as the final answer.
	IsFinal bool `json:"is_final"`

	// Actions are the tool calls to execute this iteration. Empty with
	// IsFinal false means the agent awaits user input.
	Actions []tools.ToolChoice `json:"actions"`
}

func (AgentResponse) Schema() []byte { return agentResponseSchema }

var agentResponseSchema = []byte(`{
	"type": "object",
	"properties": {
		"agent_reasoning": {"type": "string", "description": "Why this step was chosen."},
		"user_answer": {"type": "string", "description": "Message for the user; the final report when is_final is true."},
		"title": {"type": "string", "description": "Short title for the research run."},
		"is_final": {"type": "boolean"},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tool_name": {"type": "string"},
					"parameters": {"type": "object"}
				},
				"required": ["tool_name", "parameters"],
				"additionalProperties": false
			}
		}
	},
	"required": ["agent_reasoning", "user_answer", "is_final", "actions"],
	"additionalProperties": false
}`)

// summaryResponse is the compaction target type.
type summaryResponse struct {
	Summary string `json:"summary"`
}

func (summaryResponse) Schema() []byte { return summarySchema }

var summarySchema = []byte(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "description": "Dense summary of the research so far."}
	},
	"required": ["summary"],
	"additionalProperties": false
}`)
