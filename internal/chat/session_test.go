package chat

import (
	"context"
	"testing"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/engine"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
)

func collect(t *testing.T, s *Session, input string) []Event {
	t.Helper()
	var out []Event
	s.Send(t.Context(), input, "test", func(ev Event) bool {
		out = append(out, ev)
		return true
	})
	return out
}

func TestRestoreStartsFirstConversation(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, false)
	view := s.View()
	if view.ConversationID == "" {
		t.Fatal("expected a conversation id")
	}
	if view.Persona != domain.Akane {
		t.Fatalf("persona = %s, want akane", view.Persona)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("onboarding transcript has %d lines, want 2", len(view.Lines))
	}

	latest, err := st.LatestConversationID(t.Context())
	if err != nil || latest != view.ConversationID {
		t.Fatalf("LatestConversationID = %q, %v", latest, err)
	}
}

func TestSendReply(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, false, reply(domain.Akane, "good morning"))
	events := collect(t, s, "hello")

	if len(events) != 1 || events[0].Type != EventReply {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Result.Text != "good morning" {
		t.Fatalf("text = %q", events[0].Result.Text)
	}

	msgs, err := st.LoadMessages(t.Context(), s.Snapshot().ConversationID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if got := len(msgs); got != s.Snapshot().Len() {
		t.Fatalf("stored %d messages, state has %d", got, s.Snapshot().Len())
	}
}

func TestSendSilentWhenBackendFails(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, false)
	events := collect(t, s, "anyone there?")
	if len(events) != 1 || events[0].Type != EventSilent || events[0].Result != nil {
		t.Fatalf("events = %+v", events)
	}
}

func TestSendHandoff(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, true,
		toolCall("note", `{"text":"milk"}`),
		reply(domain.Akane, "ask Aoi"),
		toolCall("note", `{"text":"milk"}`),
		reply(domain.Aoi, "fine, noted"),
	)
	events := collect(t, s, "note milk")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Type != EventHandoff || events[0].Result.Persona != domain.Akane {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != EventReply || events[1].Result.Persona != domain.Aoi {
		t.Fatalf("second event = %+v", events[1])
	}
	if got := s.Snapshot().Persona; got != domain.Aoi {
		t.Fatalf("active persona = %s, want aoi", got)
	}
}

func TestSendStopsWhenClientLeaves(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, true,
		toolCall("note", `{"text":"milk"}`),
		reply(domain.Akane, "ask Aoi"),
	)
	var n int
	s.Send(t.Context(), "note milk", "test", func(Event) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("emit called %d times, want 1", n)
	}
	if got := s.Snapshot().Persona; got != domain.Aoi {
		t.Fatalf("persona = %s, hand-off state should be kept", got)
	}
}

func TestOpenRecoversSpeaker(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, false)
	ctx := t.Context()

	id, err := st.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	log := conversation.New(domain.Akane).
		AppendUser("aoi?", testNow).
		AppendAssistant(reply(domain.Aoi, "yes?"), testNow).
		AppendAssistant(toolCall("note", `{}`), testNow)
	if err := st.AppendMessages(ctx, id, log.Messages); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	if err := s.Open(ctx, id); err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := s.Snapshot()
	if snap.ConversationID != id || snap.Persona != domain.Aoi {
		t.Fatalf("opened %q as %s", snap.ConversationID, snap.Persona)
	}
	if len(snap.Pending()) != 0 {
		t.Fatal("restored messages must count as flushed")
	}

	if err := s.Open(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("Open(missing) = %v, want not found", err)
	}
}

func TestOpenFlushesOutgoingConversation(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, true,
		toolCall("note", `{"text":"milk"}`),
		reply(domain.Akane, "ask Aoi"),
	)
	ctx := t.Context()

	// Leaving at the hand-off ends the turn before its checkpoint.
	s.Send(ctx, "note milk", "test", func(Event) bool { return false })
	outgoing := s.Snapshot()
	if len(outgoing.Pending()) == 0 {
		t.Fatal("expected unflushed messages after an abandoned turn")
	}

	other, err := st.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := st.AppendMessages(ctx, other, conversation.New(domain.Akane).AppendUser("hi", testNow).Messages); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.Open(ctx, other); err != nil {
		t.Fatalf("Open: %v", err)
	}

	stored, err := st.LoadMessages(ctx, outgoing.ConversationID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(stored) != outgoing.Len() {
		t.Fatalf("stored %d messages, want all %d in-memory messages", len(stored), outgoing.Len())
	}
}

func TestOpenEmptyConversationReseeds(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, false)
	ctx := t.Context()

	id, err := st.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.Open(ctx, id); err != nil {
		t.Fatalf("Open: %v", err)
	}

	view := s.View()
	if view.ConversationID != id || view.Persona != domain.Akane {
		t.Fatalf("opened %q as %s", view.ConversationID, view.Persona)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("transcript has %d lines, want the onboarding script", len(view.Lines))
	}
	if len(s.Snapshot().Pending()) != 0 {
		t.Fatal("onboarding script should be flushed")
	}
	stored, err := st.LoadMessages(ctx, id)
	if err != nil || len(stored) != s.Snapshot().Len() {
		t.Fatalf("stored %d messages, %v", len(stored), err)
	}
}

func TestRestoreEmptyLatestReseeds(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	id, err := st.CreateConversation(t.Context())
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	orch := engine.New(&replayProvider{}, nil, st, nil, engine.WithLogger(discardLogger()))
	s := NewSession(orch, st, WithSessionLogger(discardLogger()))
	if err := s.Restore(t.Context()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	view := s.View()
	if view.ConversationID != id || len(view.Lines) != 2 {
		t.Fatalf("restored %q with %d lines", view.ConversationID, len(view.Lines))
	}
}

func TestRestoreLatest(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	orch := engine.New(&replayProvider{}, nil, st, nil, engine.WithLogger(discardLogger()))
	first := NewSession(orch, st, WithSessionLogger(discardLogger()))
	if err := first.Restore(t.Context()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	id := first.Reset(t.Context())

	second := NewSession(orch, st, WithSessionLogger(discardLogger()))
	if err := second.Restore(t.Context()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := second.Snapshot().ConversationID; got != id {
		t.Fatalf("restored %q, want latest %q", got, id)
	}
}

func TestResetKeepsPersona(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, false, reply(domain.Aoi, "hi"))
	collect(t, s, "aoi, are you there")
	before := s.Snapshot()
	if before.Persona != domain.Aoi {
		t.Fatalf("persona = %s, want aoi after switch", before.Persona)
	}

	id := s.Reset(t.Context())
	after := s.Snapshot()
	if id == before.ConversationID || after.ConversationID != id {
		t.Fatalf("reset did not start a new conversation: %q -> %q", before.ConversationID, id)
	}
	if after.Persona != domain.Aoi || after.Escalation != 0 {
		t.Fatalf("after reset: persona=%s escalation=%d", after.Persona, after.Escalation)
	}
}

func TestNotifyBroadcastsAlarms(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, false)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Notify(tools.Alarm{ID: "a1", Kind: tools.KindTimer, Label: "tea", At: testNow})

	select {
	case ev := <-events:
		if ev.Type != EventAlarm || ev.Alarm == nil || ev.Alarm.Label != "tea" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("alarm was not delivered")
	}

	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	s.Notify(tools.Alarm{ID: "a2"})
}

func TestTranscriptSkipsInternalEntries(t *testing.T) {
	t.Parallel()

	st := conversation.New(domain.Akane).
		AppendInstruction("be nice", testNow).
		AppendUser("hello", testNow).
		AppendAssistant(toolCall("note", `{}`), testNow).
		AppendToolResult("call-1", "note", "noted", testNow).
		AppendAssistant(&domain.Completion{Finish: domain.FinishStop, Text: "not json"}, testNow).
		AppendAssistant(reply(domain.Akane, "hi"), testNow)

	lines := Transcript(st.Messages)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(lines), lines)
	}
	if lines[0].Kind != domain.KindUser || lines[1].Persona != domain.Akane || lines[1].Mood != "happy" {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestCloseFlushesPending(t *testing.T) {
	t.Parallel()

	s, st := newTestSession(t, false)
	ctx := context.Background()
	s.mu.Lock()
	s.state = s.state.AppendUser("unsaved", testNow)
	s.mu.Unlock()

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	msgs, err := st.LoadMessages(ctx, s.Snapshot().ConversationID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if last := msgs[len(msgs)-1]; last.Text != "unsaved" {
		t.Fatalf("last stored message = %q", last.Text)
	}
}
