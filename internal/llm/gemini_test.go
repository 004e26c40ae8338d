package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

func TestToGeminiContents(t *testing.T) {
	now := time.Date(2026, 10, 17, 8, 5, 0, 0, time.UTC)
	msgs := []domain.Message{
		domain.UserMessage("two timers please", now),
		{
			Kind: domain.KindAssistant,
			ToolCalls: []domain.ToolCall{
				{ID: "a", Name: "set_timer", Arguments: `{"minutes":3}`},
				{ID: "b", Name: "set_timer", Arguments: `not json`},
			},
		},
		domain.ToolResultMessage("a", "set_timer", "ok a", now),
		domain.ToolResultMessage("b", "set_timer", "ok b", now),
		{Kind: domain.KindAssistant, Text: `{"persona":"akane","text":"done"}`},
	}

	got := toGeminiContents(msgs)
	if len(got) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(got))
	}
	if got[0].Role != genai.RoleUser || got[0].Parts[0].Text != "[2026-10-17 08:05] two timers please" {
		t.Fatalf("unexpected user content: %+v", got[0].Parts[0])
	}
	calls := got[1].Parts
	if got[1].Role != genai.RoleModel || len(calls) != 2 {
		t.Fatalf("unexpected call content: %+v", got[1])
	}
	if diff := cmp.Diff(map[string]any{"minutes": float64(3)}, calls[0].FunctionCall.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
	if len(calls[1].FunctionCall.Args) != 0 {
		t.Fatalf("bad JSON should become empty args, got %v", calls[1].FunctionCall.Args)
	}
	if len(got[2].Parts) != 2 || got[2].Parts[1].FunctionResponse.ID != "b" {
		t.Fatalf("tool results of one batch should share a turn: %+v", got[2])
	}
	if got[3].Role != genai.RoleModel {
		t.Fatalf("final reply role = %q", got[3].Role)
	}
}

func TestToGeminiTools(t *testing.T) {
	specs := []domain.ToolSpec{
		{
			Name: "set_alarm",
			Parameters: []domain.Param{
				{Name: "time", Type: "string", Required: true},
				{Name: "repeat", Type: "boolean"},
			},
		},
		{Name: "list_alarms"},
	}

	got := toGeminiTools(specs)
	if len(got) != 1 || len(got[0].FunctionDeclarations) != 2 {
		t.Fatalf("unexpected tools: %+v", got)
	}
	alarm := got[0].FunctionDeclarations[0].Parameters
	if alarm.Type != genai.TypeObject || alarm.Properties["repeat"].Type != genai.TypeBoolean {
		t.Fatalf("unexpected schema: %+v", alarm)
	}
	if diff := cmp.Diff([]string{"time"}, alarm.Required); diff != "" {
		t.Fatalf("required (-want +got):\n%s", diff)
	}
	if got[0].FunctionDeclarations[1].Parameters != nil {
		t.Fatal("parameterless tool should have no schema")
	}
	if toGeminiTools(nil) != nil {
		t.Fatal("empty catalog should send no tools")
	}
}

func TestFromGeminiResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{FunctionCall: &genai.FunctionCall{Name: "list_alarms"}},
		}},
	}}}

	c, err := fromGeminiResponse(resp)
	if err != nil {
		t.Fatalf("fromGeminiResponse: %v", err)
	}
	if !c.RequestsTools() || c.ToolCalls[0].Arguments != "{}" || c.ToolCalls[0].ID == "" {
		t.Fatalf("unexpected completion %+v", c)
	}
	if c.Text != "" {
		t.Fatalf("thought parts must be dropped, got %q", c.Text)
	}

	text := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: `{"persona":`}, {Text: `"aoi","text":"hi"}`}}},
	}}}
	c, err = fromGeminiResponse(text)
	if err != nil || c.Finish != domain.FinishStop || c.Text != `{"persona":"aoi","text":"hi"}` {
		t.Fatalf("unexpected text completion %+v, %v", c, err)
	}

	if _, err := fromGeminiResponse(&genai.GenerateContentResponse{}); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
