package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/tools"
)

// dispatch handles one requested call. Failures become result text; nothing is returned as an error.
func (o *Orchestrator) dispatch(ctx context.Context, call domain.ToolCall, state conversation.State) Invocation {
	inv := Invocation{
		CallID:       call.ID,
		Name:         call.Name,
		RawArguments: call.Arguments,
	}
	defer func() {
		o.metrics.RecordToolInvocation(call.Name, inv.Status)
	}()

	fn, ok := o.tools.Resolve(call.Name)
	if !ok {
		o.logger.Warn("model called unknown function", "name", call.Name, "call_id", call.ID)
		inv.Status = StatusNotFound
		inv.Result = fmt.Sprintf("function %s does not exist", call.Name)
		return inv
	}

	args, ok := fn.ParseArguments(call.Arguments)
	if !ok {
		o.logger.Warn("failed to parse function arguments", "name", call.Name, "arguments", call.Arguments)
		inv.Status = StatusBadArguments
		inv.Result = fmt.Sprintf("failed to parse arguments for function %s", call.Name)
		return inv
	}
	inv.Arguments = args

	start := time.Now()
	result, err := invokeSafely(ctx, fn, args, state)
	if err != nil {
		o.logger.Error("function failed", "name", call.Name, "error", err, "duration", time.Since(start))
		inv.Status = StatusFailed
		inv.Result = fn.FailureMessage()
		return inv
	}

	o.logger.Info("function invoked", "name", call.Name, "duration", time.Since(start))
	inv.Status = StatusOK
	inv.Result = result
	if r, ok := fn.(tools.Resetter); ok && r.ResetsConversation(result) {
		inv.ResetConversation = true
	}
	return inv
}

func invokeSafely(ctx context.Context, fn tools.Function, args any, state conversation.State) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function %s panicked: %v", fn.Name(), r)
		}
	}()
	return fn.Invoke(ctx, args, state)
}

// runTools dispatches every batch of requested calls and re-requests a completion
// until the model stops asking for tools, a request fails, or the round limit is hit.
func (o *Orchestrator) runTools(ctx context.Context, state conversation.State, c *domain.Completion, now time.Time) (conversation.State, []Invocation) {
	var invocations []Invocation
	for rounds := 0; c.RequestsTools(); {
		for _, call := range c.ToolCalls {
			inv := o.dispatch(ctx, call, state)
			invocations = append(invocations, inv)
			state = state.AppendToolResult(call.ID, call.Name, inv.Result, now)
		}

		rounds++
		if rounds >= o.cfg.MaxToolRounds {
			o.logger.Warn("tool round limit reached", "rounds", rounds, "conversation_id", state.ConversationID)
			break
		}

		next, ok := o.complete(ctx, state)
		if !ok {
			break
		}
		c = next
		state = state.AppendAssistant(c, now)
	}
	return state, invocations
}
