package engine

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
)

// Turn outcomes recorded in metrics.
const (
	outcomeEmpty     = "empty"
	outcomeAbandoned = "abandoned"
	outcomeMalformed = "malformed"
	outcomeReply     = "reply"
	outcomeReset     = "reset"
	outcomeStopped   = "stopped"
)

// RunTurn processes one user input against state.
//
// The sequence yields at most one intermediate hand-off result followed by the
// final pair. A nil result means the turn produced nothing to show; the yielded
// state must still replace the caller's copy.
func (o *Orchestrator) RunTurn(ctx context.Context, input string, state conversation.State, now time.Time) iter.Seq2[conversation.State, *TurnResult] {
	return func(yield func(conversation.State, *TurnResult) bool) {
		if strings.TrimSpace(input) == "" {
			o.metrics.RecordTurn(outcomeEmpty)
			yield(state, nil)
			return
		}
		o.runTurn(ctx, input, state, now, yield)
	}
}

func (o *Orchestrator) runTurn(ctx context.Context, input string, state conversation.State, now time.Time, yield func(conversation.State, *TurnResult) bool) {
	state = o.ensureConversation(ctx, state, now)
	state = o.ApplyPersonaSwitch(state, input, now)
	state = state.AppendUser(input, now)

	c, ok := o.complete(ctx, state)
	if !ok {
		o.metrics.RecordTurn(outcomeAbandoned)
		yield(state, nil)
		return
	}

	if c.RequestsTools() {
		state = state.RecordToolCall()
	}

	d := o.delegate(ctx, state, c, now, yield)
	if d.stopped {
		o.metrics.RecordTurn(outcomeStopped)
		return
	}
	state, c = d.state, d.completion
	o.metrics.SetPatience(state.Persona.String(), state.Escalation)

	state = state.AppendAssistant(c, now)
	state, invocations := o.runTools(ctx, state, c, now)

	result := o.buildResult(state, invocations)

	if resetRequested(invocations) {
		state = o.checkpoint(ctx, state)
		o.logger.Info("conversation erased", "conversation_id", state.ConversationID)
		state = o.ensureConversation(ctx, conversation.New(state.Persona), now)
		o.metrics.RecordTurn(outcomeReset)
	} else if result == nil {
		o.metrics.RecordTurn(outcomeMalformed)
	} else {
		o.metrics.RecordTurn(outcomeReply)
	}

	state = o.checkpoint(ctx, state)
	yield(state, result)
}

// ApplyPersonaSwitch switches to a persona named in input. Input that names
// no persona, or only the active one, returns state unchanged.
func (o *Orchestrator) ApplyPersonaSwitch(state conversation.State, input string, now time.Time) conversation.State {
	target, ok := o.detector.Detect(input)
	if !ok || target == state.Persona {
		return state
	}
	o.logger.Info("persona switch requested", "from", state.Persona, "to", target)
	state = state.AppendInstruction(o.book.SwitchInstruction(target), now)
	return state.SwitchPersona(target)
}

// complete requests a completion over the windowed log. ok is false when the
// request failed or returned nothing usable.
func (o *Orchestrator) complete(ctx context.Context, state conversation.State) (*domain.Completion, bool) {
	req := domain.Request{
		System:   o.book.SystemPrompt(state.Persona),
		Messages: state.Window(o.cfg.HistoryWindow),
		Tools:    o.tools.Specs(),
	}

	start := time.Now()
	c, err := o.provider.Complete(ctx, req)
	o.metrics.ObserveCompletion(time.Since(start), err)
	if err != nil {
		o.logger.Warn("completion request failed", "conversation_id", state.ConversationID, "error", err)
		return nil, false
	}
	if c == nil || (!c.RequestsTools() && strings.TrimSpace(c.Text) == "") {
		o.logger.Warn("completion returned nothing", "conversation_id", state.ConversationID)
		return nil, false
	}
	return c, true
}

func (o *Orchestrator) buildResult(state conversation.State, invocations []Invocation) *TurnResult {
	last, ok := state.LastAssistant()
	if !ok || last.RequestsTools() {
		o.logger.Error("turn ended without a reply", "conversation_id", state.ConversationID)
		return nil
	}
	reply, err := ParseReply(last.Text)
	if err != nil {
		o.logger.Error("failed to parse reply", "conversation_id", state.ConversationID, "error", err)
		return nil
	}
	return &TurnResult{
		Text:        reply.Text,
		Persona:     state.Persona,
		Mood:        reply.Mood,
		Invocations: invocations,
	}
}

func resetRequested(invocations []Invocation) bool {
	for _, inv := range invocations {
		if inv.ResetConversation {
			return true
		}
	}
	return false
}

// ensureConversation binds state to a stored conversation, seeding the
// onboarding script into an empty log. Creation failures are logged and
// retried by the next checkpoint.
func (o *Orchestrator) ensureConversation(ctx context.Context, state conversation.State, now time.Time) conversation.State {
	if state.ConversationID != "" {
		return state
	}
	if state.Len() == 0 {
		state = state.Append(o.book.Script(now)...)
	}
	if o.store == nil {
		return state
	}
	id, err := o.store.CreateConversation(ctx)
	if err != nil {
		o.logger.Error("failed to create conversation", "error", err)
		return state
	}
	return state.WithConversationID(id)
}

// checkpoint flushes pending messages. The boundary only moves after a successful write.
func (o *Orchestrator) checkpoint(ctx context.Context, state conversation.State) conversation.State {
	if o.store == nil {
		return state
	}
	pending := state.Pending()
	if len(pending) == 0 {
		return state
	}
	if state.ConversationID == "" {
		id, err := o.store.CreateConversation(ctx)
		if err != nil {
			o.logger.Error("failed to create conversation for checkpoint", "error", err)
			o.metrics.RecordCheckpointFailure()
			return state
		}
		state = state.WithConversationID(id)
	}
	if err := o.store.AppendMessages(ctx, state.ConversationID, pending); err != nil {
		o.logger.Error("failed to checkpoint conversation",
			"conversation_id", state.ConversationID,
			"pending", len(pending),
			"error", err)
		o.metrics.RecordCheckpointFailure()
		return state
	}
	return state.AdvanceCheckpoint(len(pending))
}

// Checkpoint flushes whatever the state has not yet persisted.
func (o *Orchestrator) Checkpoint(ctx context.Context, state conversation.State) conversation.State {
	return o.checkpoint(ctx, state)
}

// Fresh returns a new conversation for p with the onboarding script seeded and flushed.
func (o *Orchestrator) Fresh(ctx context.Context, p domain.Persona, now time.Time) conversation.State {
	return o.checkpoint(ctx, o.ensureConversation(ctx, conversation.New(p), now))
}
