package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duetlabs/duet/internal/conversation"
	"github.com/duetlabs/duet/internal/domain"
)

// ForgetSucceeded is the result text of a successful forget_memory call.
const ForgetSucceeded = "memory erased"

const maxTimer = 24 * time.Hour

var (
	errForgetFailed  = errors.New("memory erase failed")
	errAlarmNotFound = errors.New("alarm not found")
)

// BuiltinOptions configures the built-in functions.
type BuiltinOptions struct {
	Scheduler *Scheduler
	Location  *time.Location
	Now       func() time.Time
	// Random drives the injected forget_memory failure chance.
	Random            RandomSource
	ForgetFailureRate float64
}

// RegisterBuiltins registers forget_memory, set_timer, set_alarm, list_alarms and cancel_alarm.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) error {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Random == nil {
		opts.Random = globalRandom{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewScheduler(nil, r.logger)
	}

	fns := []Function{
		&Forget{random: opts.Random, failureRate: opts.ForgetFailureRate},
		setTimer(opts),
		setAlarm(opts),
		listAlarms(opts),
		cancelAlarm(opts),
	}
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// Forget erases the conversation. It is never delegated.
type Forget struct {
	random      RandomSource
	failureRate float64
}

// NewForget returns forget_memory failing with the given probability.
func NewForget(random RandomSource, failureRate float64) *Forget {
	return &Forget{random: random, failureRate: failureRate}
}

func (f *Forget) Name() string { return "forget_memory" }

func (f *Forget) Description() string {
	return "Erase the whole conversation history and start over. Only call when the user explicitly asks to forget everything."
}

func (f *Forget) Parameters() []domain.Param { return nil }
func (f *Forget) Delegable() bool            { return false }
func (f *Forget) FailureMessage() string     { return "failed to erase memory" }

func (f *Forget) ParseArguments(raw string) (any, bool) {
	args, ok := decodeArgs[struct{}](raw)
	return args, ok
}

func (f *Forget) Invoke(_ context.Context, _ any, state conversation.State) (string, error) {
	if f.random != nil && f.random.Float64() < f.failureRate {
		return "", fmt.Errorf("conversation %s: %w", state.ConversationID, errForgetFailed)
	}
	return ForgetSucceeded, nil
}

// ResetsConversation implements Resetter.
func (f *Forget) ResetsConversation(result string) bool {
	return result == ForgetSucceeded
}

type timerArgs struct {
	Minutes int    `json:"minutes"`
	Seconds int    `json:"seconds"`
	Label   string `json:"label"`
}

func (a timerArgs) duration() time.Duration {
	return time.Duration(a.Minutes)*time.Minute + time.Duration(a.Seconds)*time.Second
}

func setTimer(opts BuiltinOptions) Function {
	return New(Definition[timerArgs]{
		Name:        "set_timer",
		Description: "Start a countdown timer.",
		Parameters: []domain.Param{
			{Name: "minutes", Type: "integer", Description: "Minutes to count down."},
			{Name: "seconds", Type: "integer", Description: "Seconds to count down."},
			{Name: "label", Type: "string", Description: "What the timer is for."},
		},
		Delegable: true,
		Failure:   "failed to set the timer",
		Validate: func(a timerArgs) bool {
			if a.Minutes < 0 || a.Seconds < 0 {
				return false
			}
			d := a.duration()
			return d > 0 && d <= maxTimer
		},
		Run: func(_ context.Context, a timerArgs, _ conversation.State) (string, error) {
			at := opts.Now().In(opts.Location).Add(a.duration())
			opts.Scheduler.Add(KindTimer, a.Label, at)
			return fmt.Sprintf("timer set for %s, rings at %s", a.duration(), at.Format(domain.ClockLayout)), nil
		},
	})
}

type alarmArgs struct {
	Time  string `json:"time"`
	Label string `json:"label"`
}

func setAlarm(opts BuiltinOptions) Function {
	return New(Definition[alarmArgs]{
		Name:        "set_alarm",
		Description: "Set an alarm for the next occurrence of a local time of day.",
		Parameters: []domain.Param{
			{Name: "time", Type: "string", Description: "Local time of day as HH:MM (24-hour).", Required: true},
			{Name: "label", Type: "string", Description: "What the alarm is for."},
		},
		Delegable: true,
		Failure:   "failed to set the alarm",
		Validate: func(a alarmArgs) bool {
			_, err := time.Parse(domain.ClockLayout, a.Time)
			return err == nil
		},
		Run: func(_ context.Context, a alarmArgs, _ conversation.State) (string, error) {
			at, err := nextOccurrence(opts.Now().In(opts.Location), a.Time)
			if err != nil {
				return "", err
			}
			opts.Scheduler.Add(KindAlarm, a.Label, at)
			return fmt.Sprintf("alarm set for %s %s", at.Format(domain.DateLayout), at.Format(domain.ClockLayout)), nil
		},
	})
}

func listAlarms(opts BuiltinOptions) Function {
	return New(Definition[struct{}]{
		Name:        "list_alarms",
		Description: "List pending timers and alarms.",
		Delegable:   true,
		Failure:     "failed to list alarms",
		Run: func(_ context.Context, _ struct{}, _ conversation.State) (string, error) {
			pending := opts.Scheduler.Pending()
			if len(pending) == 0 {
				return "no timers or alarms are set", nil
			}
			var b strings.Builder
			for i, a := range pending {
				if i > 0 {
					b.WriteByte('\n')
				}
				at := a.At.In(opts.Location)
				fmt.Fprintf(&b, "- [%s] %s %s %s", a.ID, a.Kind, at.Format(domain.DateLayout), at.Format(domain.ClockLayout))
				if a.Label != "" {
					fmt.Fprintf(&b, " (%s)", a.Label)
				}
			}
			return b.String(), nil
		},
	})
}

type cancelArgs struct {
	ID string `json:"id"`
}

func cancelAlarm(opts BuiltinOptions) Function {
	return New(Definition[cancelArgs]{
		Name:        "cancel_alarm",
		Description: "Cancel a pending timer or alarm by the id shown by list_alarms.",
		Parameters: []domain.Param{
			{Name: "id", Type: "string", Description: "Id of the timer or alarm.", Required: true},
		},
		Delegable: true,
		Failure:   "no such timer or alarm",
		Validate: func(a cancelArgs) bool {
			return strings.TrimSpace(a.ID) != ""
		},
		Run: func(_ context.Context, a cancelArgs, _ conversation.State) (string, error) {
			id := strings.TrimSpace(a.ID)
			if !opts.Scheduler.Cancel(id) {
				return "", fmt.Errorf("%s: %w", id, errAlarmNotFound)
			}
			return fmt.Sprintf("cancelled %s", id), nil
		},
	})
}

// nextOccurrence returns the first instant after now whose local clock reads hhmm.
func nextOccurrence(now time.Time, hhmm string) (time.Time, error) {
	clock, err := time.Parse(domain.ClockLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse alarm time: %w", err)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
