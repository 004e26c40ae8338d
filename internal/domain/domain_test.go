package domain

import (
	"testing"
	"time"
)

func TestPersonaOther(t *testing.T) {
	for _, p := range Personas {
		if p.Other() == p || p.Other().Other() != p {
			t.Fatalf("Other(%s) = %s", p, p.Other())
		}
	}
}

func TestParsePersona(t *testing.T) {
	if p, err := ParsePersona("aoi"); err != nil || p != Aoi {
		t.Fatalf("ParsePersona(aoi) = %q, %v", p, err)
	}
	if _, err := ParsePersona("midori"); err == nil {
		t.Fatal("expected error for unknown persona")
	}
}

func TestCompletionMessage(t *testing.T) {
	now := time.Date(2026, 10, 17, 21, 5, 0, 0, time.UTC)

	var nilCompletion *Completion
	if nilCompletion.RequestsTools() {
		t.Fatal("nil completion requests no tools")
	}

	c := &Completion{Finish: FinishToolCalls, ToolCalls: []ToolCall{{ID: "1", Name: "set_timer"}}}
	msg := c.Message(now)
	if !msg.RequestsTools() || msg.Kind != KindAssistant {
		t.Fatalf("message = %+v", msg)
	}
	c.ToolCalls[0].Name = "changed"
	if msg.ToolCalls[0].Name != "set_timer" {
		t.Fatal("message must not share the completion's slice")
	}

	stop := &Completion{Finish: FinishStop, Text: "hi", ToolCalls: []ToolCall{{ID: "2"}}}
	if stop.RequestsTools() || stop.Message(now).ToolCalls != nil {
		t.Fatal("stop completions carry no calls")
	}
}

func TestUserMessageStamps(t *testing.T) {
	now := time.Date(2026, 10, 17, 21, 5, 0, 0, time.UTC)
	m := UserMessage("hello", now)
	if m.Date != "2026-10-17" || m.Clock != "21:05" {
		t.Fatalf("stamps = %s %s", m.Date, m.Clock)
	}
}
