package domain

import "time"

// FinishReason tells why the model stopped generating.
type FinishReason string

const (
	// FinishStop means the model produced a final text reply.
	FinishStop FinishReason = "stop"
	// FinishToolCalls means the model asked for one or more tool calls.
	FinishToolCalls FinishReason = "tool_calls"
)

// Completion is the result of one completion request.
type Completion struct {
	Finish    FinishReason
	Text      string
	ToolCalls []ToolCall
}

// RequestsTools returns true if the completion asked for tool calls.
func (c *Completion) RequestsTools() bool {
	return c != nil && c.Finish == FinishToolCalls && len(c.ToolCalls) > 0
}

// Message converts the completion into an assistant log entry.
func (c *Completion) Message(now time.Time) Message {
	msg := Message{
		Kind:      KindAssistant,
		Text:      c.Text,
		CreatedAt: now,
	}
	if c.RequestsTools() {
		msg.ToolCalls = make([]ToolCall, len(c.ToolCalls))
		copy(msg.ToolCalls, c.ToolCalls)
	}
	return msg
}

// Param describes one parameter of a tool for the catalog sent to the model.
type Param struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"` // string, integer, number, boolean
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolSpec is the catalog entry of a registered tool.
type ToolSpec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  []Param `json:"parameters,omitempty"`
}

// Request is one completion request: the active persona's system prompt,
// the windowed log and the tool catalog.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}
