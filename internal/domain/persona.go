// Package domain contains core domain types for the duet conversation engine.
package domain

import "fmt"

// Persona identifies one of the two conversational identities.
type Persona string

const (
	// Akane is the elder sister persona.
	Akane Persona = "akane"
	// Aoi is the younger sister persona.
	Aoi Persona = "aoi"
)

// Personas lists both identities in declaration order.
var Personas = [...]Persona{Akane, Aoi}

// Valid reports whether p is one of the two known personas.
func (p Persona) Valid() bool {
	return p == Akane || p == Aoi
}

// Other returns the alternate persona.
func (p Persona) Other() Persona {
	if p == Akane {
		return Aoi
	}
	return Akane
}

// String implements fmt.Stringer.
func (p Persona) String() string {
	return string(p)
}

// ParsePersona converts a stored or model-produced key into a Persona.
func ParsePersona(s string) (Persona, error) {
	p := Persona(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown persona %q", s)
	}
	return p, nil
}
