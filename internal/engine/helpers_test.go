package engine

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
	"github.com/duetlabs/duet/internal/persona"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2026, 10, 17, 20, 15, 0, 0, time.UTC)

var errBackend = errors.New("backend unavailable")

type step struct {
	c   *domain.Completion
	err error
}

// scriptedProvider replays completions in order and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []domain.Request
}

func script(steps ...step) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func (p *scriptedProvider) Complete(_ context.Context, req domain.Request) (*domain.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s.c, s.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func replyStep(p domain.Persona, text string) step {
	return step{c: &domain.Completion{
		Finish: domain.FinishStop,
		Text:   fmt.Sprintf(`{"persona":%q,"emotion":"happy","text":%q}`, p, text),
	}}
}

func toolStep(calls ...domain.ToolCall) step {
	return step{c: &domain.Completion{Finish: domain.FinishToolCalls, ToolCalls: calls}}
}

func failStep() step {
	return step{err: errBackend}
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

type echoArgs struct {
	Text string `json:"text"`
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(discardLogger())
	reg.MustRegister(tools.New(tools.Definition[echoArgs]{
		Name:      "echo",
		Delegable: true,
		Run: func(_ context.Context, a echoArgs, _ conversation.State) (string, error) {
			return "echo: " + a.Text, nil
		},
	}))
	reg.MustRegister(tools.New(tools.Definition[echoArgs]{
		Name:      "broken",
		Delegable: true,
		Failure:   "broken is out of order",
		Run: func(context.Context, echoArgs, conversation.State) (string, error) {
			return "", errors.New("boom")
		},
	}))
	reg.MustRegister(tools.New(tools.Definition[echoArgs]{
		Name:      "explosive",
		Delegable: true,
		Failure:   "explosive failed",
		Run: func(context.Context, echoArgs, conversation.State) (string, error) {
			panic("kaboom")
		},
	}))
	reg.MustRegister(tools.NewForget(nil, 0))
	return reg
}

// flakyStore fails the first failAppends calls to AppendMessages.
type flakyStore struct {
	*store.MemoryStore
	mu          sync.Mutex
	failAppends int
}

func (s *flakyStore) AppendMessages(ctx context.Context, id string, msgs []domain.Message) error {
	s.mu.Lock()
	if s.failAppends > 0 {
		s.failAppends--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.MemoryStore.AppendMessages(ctx, id, msgs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	orch     *Orchestrator
	provider *scriptedProvider
	store    *flakyStore
	book     *persona.Book
}

func newHarness(t *testing.T, provider *scriptedProvider, random RandomSource, cfg ...Config) *harness {
	t.Helper()
	st := &flakyStore{MemoryStore: store.NewMemory()}
	book := persona.Default()
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	orch := New(provider, testRegistry(t), st, book,
		WithRandom(random),
		WithLogger(discardLogger()),
		WithConfig(c),
	)
	return &harness{orch: orch, provider: provider, store: st, book: book}
}

type yielded struct {
	state  conversation.State
	result *TurnResult
}

func (h *harness) turn(input string, state conversation.State) []yielded {
	var out []yielded
	for s, r := range h.orch.RunTurn(context.Background(), input, state, testNow) {
		out = append(out, yielded{state: s, result: r})
	}
	return out
}

func (h *harness) final(t *testing.T, input string, state conversation.State) (conversation.State, *TurnResult) {
	t.Helper()
	out := h.turn(input, state)
	if len(out) == 0 {
		t.Fatal("turn yielded nothing")
	}
	last := out[len(out)-1]
	return last.state, last.result
}

func countInstructions(msgs []domain.Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == domain.KindInstruction && m.Text == text {
			n++
		}
	}
	return n
}
