package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/duetlabs/duet/internal/domain"
)

// ErrMalformedReply is returned by ParseReply for text that is not a structured reply.
var ErrMalformedReply = errors.New("malformed reply")

// DefaultMood is used when a reply carries no emotion tag.
const DefaultMood = "normal"

// Reply is the structured form of an assistant reply.
type Reply struct {
	Persona domain.Persona `json:"persona"`
	Mood    string         `json:"emotion"`
	Text    string         `json:"text"`
}

// ParseReply decodes {"persona", "emotion", "text"} from assistant text.
// Code fences and text around the JSON object are ignored.
func ParseReply(text string) (Reply, error) {
	body := strings.TrimSpace(text)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return Reply{}, fmt.Errorf("%w: no JSON object", ErrMalformedReply)
	}

	var raw struct {
		Persona string `json:"persona"`
		Mood    string `json:"emotion"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	p, err := domain.ParsePersona(strings.ToLower(strings.TrimSpace(raw.Persona)))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return Reply{}, fmt.Errorf("%w: empty text", ErrMalformedReply)
	}
	mood := strings.ToLower(strings.TrimSpace(raw.Mood))
	if mood == "" {
		mood = DefaultMood
	}
	return Reply{Persona: p, Mood: mood, Text: raw.Text}, nil
}
