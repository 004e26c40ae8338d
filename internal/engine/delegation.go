package engine

import (
	"context"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
)

// Phase is a state of the delegation sub-protocol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConsidering
	PhaseRefusing
	PhaseHandedOff
	PhaseAccepted
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConsidering:
		return "considering"
	case PhaseRefusing:
		return "refusing"
	case PhaseHandedOff:
		return "handed_off"
	case PhaseAccepted:
		return "accepted"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// delegation is the outcome of the sub-protocol for one completion.
type delegation struct {
	state      conversation.State
	completion *domain.Completion
	phase      Phase
	// stopped is set when the consumer stopped iterating at the hand-off.
	stopped bool
}

// shouldDelegate decides Idle→Considering for a tool-requesting completion.
func (o *Orchestrator) shouldDelegate(state conversation.State, c *domain.Completion) bool {
	if !c.RequestsTools() {
		return false
	}
	if !o.tools.AllDelegable(c.ToolCalls) {
		return false
	}
	if state.Escalation > o.cfg.ForceDelegationAfter {
		return true
	}
	return o.random.Float64() < o.cfg.DelegationProbability
}

// delegate runs the sub-protocol. emit surfaces the hand-off announcement.
// On every path but Accepted the original completion stays the effective one.
func (o *Orchestrator) delegate(
	ctx context.Context,
	state conversation.State,
	original *domain.Completion,
	now time.Time,
	emit func(conversation.State, *TurnResult) bool,
) delegation {
	if !o.shouldDelegate(state, original) {
		return delegation{state: state, completion: original, phase: PhaseIdle}
	}

	from := state.Persona
	to := from.Other()
	log := o.logger.With("conversation_id", state.ConversationID, "from", from, "to", to, "escalation", state.Escalation)
	log.Info("delegation considered")

	state = state.AppendInstruction(o.book.RefuseInstruction(from), now)
	refusal, ok := o.complete(ctx, state)
	if !ok || refusal.RequestsTools() {
		log.Info("delegation cancelled", "refusal_failed", !ok)
		state = state.AppendInstruction(o.book.CancelInstruction(from), now)
		o.metrics.RecordDelegation(PhaseCancelled.String())
		return delegation{state: state, completion: original, phase: PhaseCancelled}
	}

	state = state.AppendAssistant(refusal, now)
	handoff := &TurnResult{Text: refusal.Text, Persona: from, Mood: DefaultMood, Handoff: true}
	if reply, err := ParseReply(refusal.Text); err == nil {
		handoff.Text = reply.Text
		handoff.Mood = reply.Mood
	} else {
		log.Warn("hand-off reply is not structured", "error", err)
	}

	state = state.SwitchPersona(to)
	state = state.AppendInstruction(o.book.AcceptInstruction(from), now)
	if !emit(state, handoff) {
		return delegation{state: state, completion: original, phase: PhaseHandedOff, stopped: true}
	}

	accepted, ok := o.complete(ctx, state)
	if !ok {
		// The persona switch stays applied while the original completion answers.
		log.Warn("acceptance completion failed, falling back to original completion")
		o.metrics.RecordDelegation(PhaseHandedOff.String())
		return delegation{state: state, completion: original, phase: PhaseHandedOff}
	}

	log.Info("delegation accepted")
	o.metrics.RecordDelegation(PhaseAccepted.String())
	return delegation{state: state.ResetEscalation(), completion: accepted, phase: PhaseAccepted}
}
