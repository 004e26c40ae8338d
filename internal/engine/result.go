package engine

import "github.com/duetlabs/duet/internal/domain"

// Invocation statuses.
const (
	StatusOK           = "ok"
	StatusNotFound     = "not_found"
	StatusBadArguments = "bad_arguments"
	StatusFailed       = "failed"
)

// Invocation records one handled tool call, including failed ones.
type Invocation struct {
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	RawArguments string `json:"raw_arguments,omitempty"`
	Arguments    any    `json:"arguments,omitempty"`
	Result       string `json:"result"`
	Status       string `json:"status"`
	// ResetConversation is set when the result discards the conversation.
	ResetConversation bool `json:"reset_conversation,omitempty"`
}

// TurnResult is what a turn shows to the user.
type TurnResult struct {
	Text        string         `json:"text"`
	Persona     domain.Persona `json:"persona"`
	Mood        string         `json:"mood"`
	Invocations []Invocation   `json:"invocations,omitempty"`
	// Handoff marks the intermediate result of a persona refusing a task.
	Handoff bool `json:"handoff,omitempty"`
}
