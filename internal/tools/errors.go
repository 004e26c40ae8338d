package tools

import "errors"

// Registry errors.
var (
	// ErrToolNil is returned when registering a nil function.
	ErrToolNil = errors.New("tool cannot be nil")

	// ErrToolNameEmpty is returned when a function has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

var errArgumentType = errors.New("arguments were not produced by ParseArguments")
