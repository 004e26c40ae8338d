package domain

import "time"

// Kind tags the variant a Message carries.
type Kind string

const (
	// KindUser is free text typed by the user.
	KindUser Kind = "user"
	// KindInstruction is a system-authored instruction injected into the log.
	KindInstruction Kind = "instruction"
	// KindAssistant is a completion: reply text or requested tool calls.
	KindAssistant Kind = "assistant"
	// KindTool is the result of one tool call.
	KindTool Kind = "tool"
)

// Local date and time-of-day layouts stamped on user and instruction entries.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the conversation log.
//
// User and instruction entries carry Date and Clock, computed once when the
// entry is appended. Assistant entries carry Text or ToolCalls. Tool entries
// carry ToolCallID, ToolName and the plain-text result in Text.
type Message struct {
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text,omitempty"`
	Date       string     `json:"date,omitempty"`
	Clock      string     `json:"clock,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserMessage builds a user entry stamped with now's local date and time.
func UserMessage(text string, now time.Time) Message {
	return Message{
		Kind:      KindUser,
		Text:      text,
		Date:      now.Format(DateLayout),
		Clock:     now.Format(ClockLayout),
		CreatedAt: now,
	}
}

// InstructionMessage builds an instruction entry stamped with now's local date and time.
func InstructionMessage(text string, now time.Time) Message {
	return Message{
		Kind:      KindInstruction,
		Text:      text,
		Date:      now.Format(DateLayout),
		Clock:     now.Format(ClockLayout),
		CreatedAt: now,
	}
}

// ToolResultMessage builds a tool entry answering the call with the given id.
func ToolResultMessage(callID, toolName, result string, now time.Time) Message {
	return Message{
		Kind:       KindTool,
		Text:       result,
		ToolCallID: callID,
		ToolName:   toolName,
		CreatedAt:  now,
	}
}

// RequestsTools returns true if the entry is an assistant entry with pending calls.
func (m Message) RequestsTools() bool {
	return m.Kind == KindAssistant && len(m.ToolCalls) > 0
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}
