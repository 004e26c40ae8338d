package tools

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/duetlabs/duet/internal/domain"
)

// Registry holds the functions the model may call.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Function
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		funcs:  make(map[string]Function),
		logger: logger,
	}
}

// Register adds fn. Names must be unique.
func (r *Registry) Register(fn Function) error {
	if fn == nil {
		return ErrToolNil
	}
	name := fn.Name()
	if name == "" {
		return ErrToolNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	r.funcs[name] = fn

	r.logger.Debug("registered tool", "name", name, "delegable", fn.Delegable())
	return nil
}

// MustRegister registers fn and panics on error.
func (r *Registry) MustRegister(fn Function) {
	if err := r.Register(fn); err != nil {
		panic(fmt.Sprintf("failed to register tool: %v", err))
	}
}

// Resolve returns the function registered under name.
func (r *Registry) Resolve(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Specs returns the catalog sent to the completion provider, sorted by name.
func (r *Registry) Specs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]domain.ToolSpec, 0, len(r.funcs))
	for _, fn := range r.funcs {
		specs = append(specs, domain.ToolSpec{
			Name:        fn.Name(),
			Description: fn.Description(),
			Parameters:  fn.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// AllDelegable reports whether every registered function named in calls may be handed off.
// Names that are not registered are ignored.
func (r *Registry) AllDelegable(calls []domain.ToolCall) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range calls {
		if fn, ok := r.funcs[c.Name]; ok && !fn.Delegable() {
			return false
		}
	}
	return true
}
