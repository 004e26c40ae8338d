// Package llm implements completion providers: a Gemini client and a gRPC sidecar client.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/google/uuid"
)

// ErrEmptyCompletion is returned when a backend answers with neither text nor tool calls.
var ErrEmptyCompletion = errors.New("empty completion")

// Provider is the capability every backend in this package implements.
type Provider interface {
	Complete(ctx context.Context, req domain.Request) (*domain.Completion, error)
}

// finish builds a completion from decoded backend output, filling missing call ids.
func finish(text string, calls []domain.ToolCall) (*domain.Completion, error) {
	if len(calls) > 0 {
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
		}
		return &domain.Completion{Finish: domain.FinishToolCalls, Text: text, ToolCalls: calls}, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCompletion
	}
	return &domain.Completion{Finish: domain.FinishStop, Text: text}, nil
}

// timestamped renders user and instruction text with the local date and time it was appended at.
func timestamped(m domain.Message) string {
	if m.Date == "" {
		return m.Text
	}
	return "[" + m.Date + " " + m.Clock + "] " + m.Text
}
