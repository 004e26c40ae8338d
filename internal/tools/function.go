// Package tools defines the functions the model may call and the registry that resolves them.
package tools

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strings"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
)

// Function is one callable exposed to the model.
type Function interface {
	Name() string
	Description() string
	Parameters() []domain.Param
	// Delegable reports whether a persona may refuse this call and hand it to the other persona.
	Delegable() bool
	// ParseArguments decodes the raw JSON payload. ok is false when the payload is unusable.
	ParseArguments(raw string) (args any, ok bool)
	// Invoke runs the call with arguments returned by ParseArguments.
	Invoke(ctx context.Context, args any, state conversation.State) (string, error)
	// FailureMessage is recorded as the result when Invoke fails.
	FailureMessage() string
}

// Resetter is implemented by functions whose result can discard the conversation.
type Resetter interface {
	ResetsConversation(result string) bool
}

// RandomSource yields floats in [0, 1). *math/rand/v2.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// Definition describes a function whose arguments decode into T.
type Definition[T any] struct {
	Name        string
	Description string
	Parameters  []domain.Param
	Delegable   bool
	Failure     string
	// Validate rejects decoded arguments. Nil accepts everything that decodes.
	Validate func(T) bool
	Run      func(ctx context.Context, args T, state conversation.State) (string, error)
}

// New wraps a definition as a Function.
func New[T any](d Definition[T]) Function {
	return &typed[T]{def: d}
}

type typed[T any] struct {
	def Definition[T]
}

func (f *typed[T]) Name() string               { return f.def.Name }
func (f *typed[T]) Description() string        { return f.def.Description }
func (f *typed[T]) Parameters() []domain.Param { return f.def.Parameters }
func (f *typed[T]) Delegable() bool            { return f.def.Delegable }

func (f *typed[T]) FailureMessage() string {
	if f.def.Failure != "" {
		return f.def.Failure
	}
	return "function " + f.def.Name + " failed"
}

func (f *typed[T]) ParseArguments(raw string) (any, bool) {
	args, ok := decodeArgs[T](raw)
	if !ok {
		return nil, false
	}
	if f.def.Validate != nil && !f.def.Validate(args) {
		return nil, false
	}
	return args, true
}

func (f *typed[T]) Invoke(ctx context.Context, args any, state conversation.State) (string, error) {
	v, ok := args.(T)
	if !ok {
		return "", errArgumentType
	}
	return f.def.Run(ctx, v, state)
}

func decodeArgs[T any](raw string) (T, bool) {
	var v T
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false
	}
	return v, true
}
