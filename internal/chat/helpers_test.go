package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/engine"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
)

var testNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

// replayProvider returns completions in order.
type replayProvider struct {
	mu    sync.Mutex
	queue []*domain.Completion
}

func (p *replayProvider) Complete(context.Context, domain.Request) (*domain.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, errors.New("no more completions")
	}
	c := p.queue[0]
	p.queue = p.queue[1:]
	return c, nil
}

func reply(p domain.Persona, text string) *domain.Completion {
	return &domain.Completion{
		Finish: domain.FinishStop,
		Text:   fmt.Sprintf(`{"persona":%q,"emotion":"happy","text":%q}`, p, text),
	}
}

func toolCall(name, args string) *domain.Completion {
	return &domain.Completion{
		Finish:    domain.FinishToolCalls,
		ToolCalls: []domain.ToolCall{{ID: "call-1", Name: name, Arguments: args}},
	}
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

type noteArgs struct {
	Text string `json:"text"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession builds a restored session. delegate forces every tool turn
// through the hand-off protocol.
func newTestSession(t *testing.T, delegate bool, completions ...*domain.Completion) (*Session, *store.MemoryStore) {
	t.Helper()

	reg := tools.NewRegistry(discardLogger())
	reg.MustRegister(tools.New(tools.Definition[noteArgs]{
		Name:      "note",
		Delegable: true,
		Run: func(_ context.Context, a noteArgs, _ conversation.State) (string, error) {
			return "noted " + a.Text, nil
		},
	}))

	cfg := engine.DefaultConfig()
	random := fixedRandom(1)
	if delegate {
		cfg.DelegationProbability = 1
		random = fixedRandom(0)
	}

	st := store.NewMemory()
	orch := engine.New(&replayProvider{queue: completions}, reg, st, nil,
		engine.WithRandom(random),
		engine.WithLogger(discardLogger()),
		engine.WithConfig(cfg),
	)
	s := NewSession(orch, st,
		WithClock(func() time.Time { return testNow }),
		WithSessionLogger(discardLogger()),
	)
	if err := s.Restore(t.Context()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return s, st
}
