// Package engine runs conversation turns: persona switching, completions,
// delegation between personas, tool dispatch and checkpointing.
package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/metrics"
	"github.com/duetlabs/duet/internal/persona"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
)

// CompletionProvider produces the next completion for a request.
// Retries, if any, are the provider's concern.
type CompletionProvider interface {
	Complete(ctx context.Context, req domain.Request) (*domain.Completion, error)
}

// RandomSource yields floats in [0, 1). *math/rand/v2.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// Config tunes the orchestrator.
type Config struct {
	// HistoryWindow caps the number of trailing log entries sent per request.
	HistoryWindow int
	// DelegationProbability is the chance of delegating an ordinary tool request.
	DelegationProbability float64
	// ForceDelegationAfter forces delegation once the escalation counter exceeds it.
	ForceDelegationAfter int
	// MaxToolRounds bounds the dispatch loop of one turn.
	MaxToolRounds int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:         20,
		DelegationProbability: 0.1,
		ForceDelegationAfter:  3,
		MaxToolRounds:         8,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRandom injects the random source used for delegation decisions.
func WithRandom(r RandomSource) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.random = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records turn metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithConfig overrides the tuning. Non-positive counts keep their defaults;
// DelegationProbability is taken as given when it lies in [0, 1].
func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		if c.HistoryWindow > 0 {
			o.cfg.HistoryWindow = c.HistoryWindow
		}
		if c.DelegationProbability >= 0 && c.DelegationProbability <= 1 {
			o.cfg.DelegationProbability = c.DelegationProbability
		}
		if c.ForceDelegationAfter > 0 {
			o.cfg.ForceDelegationAfter = c.ForceDelegationAfter
		}
		if c.MaxToolRounds > 0 {
			o.cfg.MaxToolRounds = c.MaxToolRounds
		}
	}
}

// Orchestrator runs turns. It keeps no per-conversation state; callers hold
// the conversation.State and must not run two turns on one conversation at once.
type Orchestrator struct {
	provider CompletionProvider
	tools    *tools.Registry
	store    store.ConversationStore
	book     *persona.Book
	detector *persona.Detector

	random  RandomSource
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator. A nil book uses the embedded persona profiles.
func New(provider CompletionProvider, registry *tools.Registry, st store.ConversationStore, book *persona.Book, opts ...Option) *Orchestrator {
	if book == nil {
		book = persona.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry(nil)
	}
	o := &Orchestrator{
		provider: provider,
		tools:    registry,
		store:    st,
		book:     book,
		detector: persona.NewDetector(book),
		random:   globalRandom{},
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Book returns the persona profiles in use.
func (o *Orchestrator) Book() *persona.Book {
	return o.book
}
