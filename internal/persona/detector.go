package persona

import (
	"strings"

	"github.com/duetlabs/duet/internal/domain"
)

type variant struct {
	persona domain.Persona
	name    string
}

// Detector finds an explicit persona name in user input.
type Detector struct {
	variants []variant
}

// NewDetector builds a detector over the name variants of every persona in the book.
func NewDetector(b *Book) *Detector {
	d := &Detector{}
	for _, p := range domain.Personas {
		for _, name := range b.Profile(p).Names {
			if name == "" {
				continue
			}
			d.variants = append(d.variants, variant{persona: p, name: name})
		}
	}
	return d
}

// Detect returns the persona whose name occurs earliest in text.
// When two variants start at the same index the longer one wins.
func (d *Detector) Detect(text string) (domain.Persona, bool) {
	best := -1
	bestLen := 0
	var found domain.Persona
	for _, v := range d.variants {
		idx := strings.Index(text, v.name)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best || (idx == best && len(v.name) > bestLen) {
			best, bestLen, found = idx, len(v.name), v.persona
		}
	}
	return found, best >= 0
}
