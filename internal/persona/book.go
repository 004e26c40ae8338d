// Package persona holds the per-persona text tables and the name detector.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/duetlabs/duet/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// ErrMissingProfile is returned when a profile file does not define both personas.
var ErrMissingProfile = errors.New("persona profile missing")

// Profile is the text table of one persona.
type Profile struct {
	DisplayName       string   `yaml:"display_name"`
	Names             []string `yaml:"names"`
	SystemPrompt      string   `yaml:"system_prompt"`
	SwitchInstruction string   `yaml:"switch_instruction"`
	RefuseInstruction string   `yaml:"refuse_instruction"`
	AcceptInstruction string   `yaml:"accept_instruction"`
	CancelInstruction string   `yaml:"cancel_instruction"`
}

// ScriptEntry is one message of the onboarding script.
type ScriptEntry struct {
	Kind domain.Kind `yaml:"kind"`
	Text string      `yaml:"text"`
}

// Book is the loaded set of persona profiles plus the onboarding script.
type Book struct {
	Default    domain.Persona             `yaml:"default"`
	Personas   map[domain.Persona]Profile `yaml:"personas"`
	Onboarding []ScriptEntry              `yaml:"onboarding"`
}

// Default returns the book compiled into the binary.
func Default() *Book {
	b, err := Parse(defaultProfiles)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded profiles: %v", err))
	}
	return b
}

// Load reads a book from path. An empty path returns the embedded book.
func Load(path string) (*Book, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML book.
func Parse(data []byte) (*Book, error) {
	var b Book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode persona profiles: %w", err)
	}
	if b.Default == "" {
		b.Default = domain.Akane
	}
	if !b.Default.Valid() {
		return nil, fmt.Errorf("default persona %q: %w", b.Default, ErrMissingProfile)
	}
	for _, p := range domain.Personas {
		prof, ok := b.Personas[p]
		if !ok {
			return nil, fmt.Errorf("%s: %w", p, ErrMissingProfile)
		}
		if len(prof.Names) == 0 {
			return nil, fmt.Errorf("%s has no name variants", p)
		}
	}
	for i, e := range b.Onboarding {
		switch e.Kind {
		case domain.KindInstruction, domain.KindAssistant:
		default:
			return nil, fmt.Errorf("onboarding entry %d: unsupported kind %q", i, e.Kind)
		}
	}
	return &b, nil
}

// Profile returns the profile of p. Unknown personas get the default profile.
func (b *Book) Profile(p domain.Persona) Profile {
	if prof, ok := b.Personas[p]; ok {
		return prof
	}
	return b.Personas[b.Default]
}

// SystemPrompt returns the system prompt of p.
func (b *Book) SystemPrompt(p domain.Persona) string { return b.Profile(p).SystemPrompt }

// SwitchInstruction is appended when the user names p while the other persona is active.
func (b *Book) SwitchInstruction(p domain.Persona) string { return b.Profile(p).SwitchInstruction }

// RefuseInstruction asks p to refuse the pending task and push it onto the other persona.
func (b *Book) RefuseInstruction(p domain.Persona) string { return b.Profile(p).RefuseInstruction }

// AcceptInstruction asks the other persona to fulfil the task that from refused.
func (b *Book) AcceptInstruction(from domain.Persona) string { return b.Profile(from).AcceptInstruction }

// CancelInstruction tells p to drop the hand-off and resume normal tool use.
func (b *Book) CancelInstruction(p domain.Persona) string { return b.Profile(p).CancelInstruction }

// Script returns the onboarding script as log entries stamped with now.
func (b *Book) Script(now time.Time) []domain.Message {
	out := make([]domain.Message, 0, len(b.Onboarding))
	for _, e := range b.Onboarding {
		switch e.Kind {
		case domain.KindInstruction:
			out = append(out, domain.InstructionMessage(e.Text, now))
		case domain.KindAssistant:
			out = append(out, domain.Message{Kind: domain.KindAssistant, Text: e.Text, CreatedAt: now})
		}
	}
	return out
}
