package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const schedulerInterval = time.Second

// Alarm kinds.
const (
	KindTimer = "timer"
	KindAlarm = "alarm"
)

// Alarm is one scheduled notification.
type Alarm struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"`
	Label string    `json:"label,omitempty"`
	At    time.Time `json:"at"`
}

// FireFunc is called once for every alarm that comes due.
type FireFunc func(Alarm)

// Scheduler keeps timers and alarms in memory and fires them from Run.
type Scheduler struct {
	mu     sync.Mutex
	alarms map[string]Alarm
	onFire FireFunc
	logger *slog.Logger
}

// NewScheduler creates a scheduler. onFire may be nil.
func NewScheduler(onFire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		alarms: make(map[string]Alarm),
		onFire: onFire,
		logger: logger,
	}
}

// Add schedules a new alarm.
func (s *Scheduler) Add(kind, label string, at time.Time) Alarm {
	a := Alarm{ID: uuid.NewString(), Kind: kind, Label: label, At: at}

	s.mu.Lock()
	s.alarms[a.ID] = a
	s.mu.Unlock()

	s.logger.Info("alarm scheduled", "id", a.ID, "kind", kind, "at", at)
	return a
}

// Cancel removes a pending alarm.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return false
	}
	delete(s.alarms, id)
	return true
}

// Pending returns the alarms not yet fired, earliest first.
func (s *Scheduler) Pending() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Run fires due alarms until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	s.logger.Info("alarm scheduler started", "interval", schedulerInterval)
	for {
		select {
		case now := <-ticker.C:
			s.fireDue(now)
		case <-ctx.Done():
			s.logger.Info("alarm scheduler shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (s *Scheduler) fireDue(now time.Time) []Alarm {
	s.mu.Lock()
	var due []Alarm
	for id, a := range s.alarms {
		if !a.At.After(now) {
			due = append(due, a)
			delete(s.alarms, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].At.Before(due[j].At) })
	for _, a := range due {
		s.logger.Info("alarm fired", "id", a.ID, "kind", a.Kind, "label", a.Label)
		if s.onFire != nil {
			s.onFire(a)
		}
	}
	return due
}
