package llm

import (
	"encoding/json"
	"fmt"

	"github.com/duetlabs/duet/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// wireRequest is the JSON shape carried in a structpb.Struct over gRPC.
type wireRequest struct {
	System   string            `json:"system,omitempty"`
	Messages []domain.Message  `json:"messages"`
	Tools    []domain.ToolSpec `json:"tools,omitempty"`
}

type wireResponse struct {
	Finish    domain.FinishReason `json:"finish"`
	Text      string              `json:"text,omitempty"`
	ToolCalls []domain.ToolCall   `json:"tool_calls,omitempty"`
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("convert payload: %w", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("decode payload: nil message")
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("convert payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
