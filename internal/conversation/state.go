// Package conversation holds the value-typed snapshot of one conversation.
//
// Every transition returns a new State. Message slices are copied on write, so
// a State handed to a caller is never modified by later transitions.
package conversation

import (
	"time"

	"github.com/duetlabs/duet/internal/domain"
)

// State is an immutable snapshot of one conversation.
type State struct {
	// Persona is the active identity. Always Akane or Aoi.
	Persona domain.Persona
	// Escalation counts consecutive tool-requesting turns handled by the same persona.
	Escalation int
	// LastToolCallPersona is the persona that most recently triggered a tool call.
	LastToolCallPersona domain.Persona
	// Messages is the ordered log. Treat as read-only.
	Messages []domain.Message
	// ConversationID is empty until the store creates a conversation.
	ConversationID string
	// Checkpoint is the number of leading messages already flushed to the store.
	Checkpoint int
}

// New returns an empty state with the given active persona.
// An invalid persona falls back to Akane.
func New(p domain.Persona) State {
	if !p.Valid() {
		p = domain.Akane
	}
	return State{Persona: p}
}

// Restore rebuilds a state from persisted messages. All messages count as flushed.
func Restore(id string, p domain.Persona, msgs []domain.Message) State {
	s := New(p)
	s.ConversationID = id
	s.Messages = cloneMessages(msgs, 0)
	s.Checkpoint = len(s.Messages)
	return s
}

// Len returns the number of messages in the log.
func (s State) Len() int {
	return len(s.Messages)
}

// Pending returns the messages not yet flushed to the store.
func (s State) Pending() []domain.Message {
	return cloneMessages(s.Messages[s.Checkpoint:], 0)
}

// Last returns the last message and true, or false for an empty log.
func (s State) Last() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1].Clone(), true
}

// LastAssistant returns the most recent assistant entry.
func (s State) LastAssistant() (domain.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == domain.KindAssistant {
			return s.Messages[i].Clone(), true
		}
	}
	return domain.Message{}, false
}

// Append returns a state with msgs added to the end of the log.
func (s State) Append(msgs ...domain.Message) State {
	if len(msgs) == 0 {
		return s
	}
	next := cloneMessages(s.Messages, len(msgs))
	for _, m := range msgs {
		next = append(next, m.Clone())
	}
	s.Messages = next
	return s
}

// AppendUser appends a user entry stamped with now.
func (s State) AppendUser(text string, now time.Time) State {
	return s.Append(domain.UserMessage(text, now))
}

// AppendInstruction appends an instruction entry stamped with now.
func (s State) AppendInstruction(text string, now time.Time) State {
	return s.Append(domain.InstructionMessage(text, now))
}

// AppendAssistant appends the completion as an assistant entry.
func (s State) AppendAssistant(c *domain.Completion, now time.Time) State {
	return s.Append(c.Message(now))
}

// AppendToolResult appends the result of the call with the given id.
func (s State) AppendToolResult(callID, toolName, result string, now time.Time) State {
	return s.Append(domain.ToolResultMessage(callID, toolName, result, now))
}

// SwitchPersona makes p active and resets the escalation counter.
func (s State) SwitchPersona(p domain.Persona) State {
	if !p.Valid() {
		return s
	}
	s.Persona = p
	s.Escalation = 0
	return s
}

// RecordToolCall updates the escalation counter for a tool-requesting completion.
// The counter continues while the same persona keeps calling tools and restarts
// at 1 when the caller changes.
func (s State) RecordToolCall() State {
	if s.LastToolCallPersona == s.Persona {
		s.Escalation++
		return s
	}
	s.Escalation = 1
	s.LastToolCallPersona = s.Persona
	return s
}

// ResetEscalation sets the escalation counter to zero.
func (s State) ResetEscalation() State {
	s.Escalation = 0
	return s
}

// WithConversationID returns a state bound to the given stored conversation.
func (s State) WithConversationID(id string) State {
	s.ConversationID = id
	return s
}

// AdvanceCheckpoint moves the flush boundary forward by n messages, clamped to the log length.
func (s State) AdvanceCheckpoint(n int) State {
	if n <= 0 {
		return s
	}
	s.Checkpoint += n
	if s.Checkpoint > len(s.Messages) {
		s.Checkpoint = len(s.Messages)
	}
	return s
}

// Window returns at most limit trailing messages, dropping leading tool results
// whose originating call fell outside the window.
func (s State) Window(limit int) []domain.Message {
	msgs := s.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Kind == domain.KindTool {
		msgs = msgs[1:]
	}
	return cloneMessages(msgs, 0)
}

func cloneMessages(msgs []domain.Message, extra int) []domain.Message {
	out := make([]domain.Message, 0, len(msgs)+extra)
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	return out
}
