// Package chat exposes a conversation to users over HTTP, WebSocket and the terminal.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
	"github.com/duetlabs/duet/internal/engine"
	"github.com/duetlabs/duet/internal/store"
	"github.com/duetlabs/duet/internal/tools"
)

// Event types delivered to clients.
const (
	EventHandoff = "handoff"
	EventReply   = "reply"
	EventSilent  = "silent"
	EventAlarm   = "alarm"
)

// Event is one thing a client should show.
type Event struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Result         *engine.TurnResult `json:"result,omitempty"`
	Alarm          *tools.Alarm       `json:"alarm,omitempty"`
}

// Line is a user-visible transcript entry.
type Line struct {
	Kind    domain.Kind    `json:"kind"`
	Persona domain.Persona `json:"persona,omitempty"`
	Mood    string         `json:"mood,omitempty"`
	Text    string         `json:"text"`
	At      time.Time      `json:"at"`
}

// View summarizes the live conversation.
type View struct {
	ConversationID string         `json:"conversation_id"`
	Persona        domain.Persona `json:"persona"`
	Escalation     int            `json:"escalation"`
	Lines          []Line         `json:"lines"`
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the source of turn timestamps.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConversationLogger records traffic to l.
func WithConversationLogger(l ConversationLogger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.convLog = l
		}
	}
}

// WithSessionLogger sets the structured logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session owns the live conversation state and serializes turns on it.
type Session struct {
	orch  *engine.Orchestrator
	store store.ConversationStore

	mu    sync.Mutex
	state conversation.State

	subMu sync.Mutex
	subs  map[int]chan Event
	next  int

	now     func() time.Time
	convLog ConversationLogger
	logger  *slog.Logger
}

// NewSession creates a session with an empty state. Call Restore or Reset before use.
func NewSession(orch *engine.Orchestrator, st store.ConversationStore, opts ...SessionOption) *Session {
	s := &Session{
		orch:    orch,
		store:   st,
		state:   conversation.New(orch.Book().Default),
		subs:    make(map[int]chan Event),
		now:     time.Now,
		convLog: noopConversationLogger{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the most recent conversation, or starts one when the store is empty.
func (s *Session) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.LatestConversationID(ctx)
	if err != nil {
		return fmt.Errorf("find latest conversation: %w", err)
	}
	if id == "" {
		s.state = s.orch.Fresh(ctx, s.orch.Book().Default, s.now())
		s.logger.Info("started first conversation", "conversation_id", s.state.ConversationID)
		return nil
	}
	return s.open(ctx, id)
}

// Open makes the stored conversation id the live one.
func (s *Session) Open(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Flush the outgoing conversation before it is replaced.
	s.state = s.orch.Checkpoint(ctx, s.state)
	return s.open(ctx, id)
}

func (s *Session) open(ctx context.Context, id string) error {
	msgs, err := s.store.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}
	if len(msgs) == 0 {
		// An empty log (expired or never written) gets the onboarding script again.
		book := s.orch.Book()
		s.state = s.orch.Checkpoint(ctx, conversation.Restore(id, book.Default, nil).Append(book.Script(s.now())...))
		s.logger.Info("conversation reseeded", "conversation_id", id, "persona", book.Default)
		return nil
	}
	p := lastSpeaker(msgs, s.orch.Book().Default)
	s.state = conversation.Restore(id, p, msgs)
	s.logger.Info("conversation opened", "conversation_id", id, "messages", len(msgs), "persona", p)
	return nil
}

// Reset flushes the live conversation and starts a new one with the same persona.
func (s *Session) Reset(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.orch.Checkpoint(ctx, s.state)
	s.state = s.orch.Fresh(ctx, old.Persona, s.now())
	s.logger.Info("conversation started", "conversation_id", s.state.ConversationID, "previous", old.ConversationID)
	return s.state.ConversationID
}

// Snapshot returns the live state.
func (s *Session) Snapshot() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns the live conversation as a transcript.
func (s *Session) View() View {
	st := s.Snapshot()
	return View{
		ConversationID: st.ConversationID,
		Persona:        st.Persona,
		Escalation:     st.Escalation,
		Lines:          Transcript(st.Messages),
	}
}

// Send runs one turn. emit receives each event in order; returning false
// abandons the rest of the turn.
func (s *Session) Send(ctx context.Context, input, channel string, emit func(Event) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convLog.Log(ConversationLogEvent{
		Timestamp:      s.timestamp(),
		ConversationID: s.state.ConversationID,
		Channel:        channel,
		Direction:      "inbound",
		EventType:      EventUserMessage,
		ContentRaw:     input,
	})

	for st, res := range s.orch.RunTurn(ctx, input, s.state, s.now()) {
		s.state = st
		ev := Event{Type: EventSilent, ConversationID: st.ConversationID, Result: res}
		switch {
		case res == nil:
		case res.Handoff:
			ev.Type = EventHandoff
		default:
			ev.Type = EventReply
		}
		s.logEvent(channel, ev)
		if !emit(ev) {
			s.logger.Info("turn abandoned by client", "conversation_id", st.ConversationID)
			return
		}
	}
}

func (s *Session) logEvent(channel string, ev Event) {
	entry := ConversationLogEvent{
		Timestamp:      s.timestamp(),
		ConversationID: ev.ConversationID,
		Channel:        channel,
		Direction:      "outbound",
	}
	switch ev.Type {
	case EventHandoff:
		entry.EventType = EventHandoffLog
	case EventReply:
		entry.EventType = EventAssistant
	default:
		entry.EventType = EventSilentLog
	}
	if r := ev.Result; r != nil {
		entry.Persona = r.Persona.String()
		entry.Mood = r.Mood
		entry.ContentRaw = r.Text
		if len(r.Invocations) > 0 {
			names := make([]string, 0, len(r.Invocations))
			for _, inv := range r.Invocations {
				names = append(names, inv.Name+":"+inv.Status)
			}
			entry.Meta = map[string]any{"tools": names}
		}
	}
	s.convLog.Log(entry)
}

// Subscribe returns a channel receiving out-of-turn events such as alarms.
// The returned function unsubscribes and closes the channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Notify broadcasts a fired alarm to subscribers. It matches tools.FireFunc
// and never waits for a running turn.
func (s *Session) Notify(a tools.Alarm) {
	ev := Event{Type: EventAlarm, Alarm: &a}
	s.convLog.Log(ConversationLogEvent{
		Timestamp:  s.timestamp(),
		Channel:    "scheduler",
		Direction:  "outbound",
		EventType:  EventAlarmLog,
		ContentRaw: a.Label,
		Meta:       map[string]any{"alarm_id": a.ID, "kind": a.Kind},
	})

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("subscriber is not keeping up, dropping alarm", "subscriber", id, "alarm_id", a.ID)
		}
	}
}

// Close flushes the live conversation and releases the conversation log.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.state = s.orch.Checkpoint(ctx, s.state)
	s.mu.Unlock()
	return s.convLog.Close()
}

func (s *Session) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// lastSpeaker returns the persona of the last structured reply in msgs.
func lastSpeaker(msgs []domain.Message, fallback domain.Persona) domain.Persona {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind != domain.KindAssistant || msgs[i].RequestsTools() {
			continue
		}
		if r, err := engine.ParseReply(msgs[i].Text); err == nil {
			return r.Persona
		}
	}
	return fallback
}

// Transcript keeps user messages and structured replies, in order.
func Transcript(msgs []domain.Message) []Line {
	lines := make([]Line, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Kind == domain.KindUser:
			lines = append(lines, Line{Kind: m.Kind, Text: m.Text, At: m.CreatedAt})
		case m.Kind == domain.KindAssistant && !m.RequestsTools():
			r, err := engine.ParseReply(m.Text)
			if err != nil {
				continue
			}
			lines = append(lines, Line{Kind: m.Kind, Persona: r.Persona, Mood: r.Mood, Text: r.Text, At: m.CreatedAt})
		}
	}
	return lines
}

// IsNotFound reports whether err means the conversation does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
