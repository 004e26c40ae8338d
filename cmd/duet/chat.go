package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/duetlabs/duet/internal/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the personas in the terminal",
	Long: `Runs an interactive conversation on stdin and stdout.

Commands:
  /new    start a new conversation
  /quit   exit`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	go func() {
		if err := a.scheduler.Run(ctx); err != nil {
			slog.Warn("Scheduler stopped", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	alarms, unsubscribe := a.session.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range alarms {
			printEvent(out, ev)
		}
	}()

	for _, line := range a.session.View().Lines {
		printLine(out, line)
	}
	return repl(ctx, a.session, cmd.InOrStdin(), out)
}

func repl(ctx context.Context, s *chat.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			id := s.Reset(ctx)
			fmt.Fprintf(out, "-- new conversation %s --\n", id)
			for _, line := range s.View().Lines {
				printLine(out, line)
			}
			continue
		}

		s.Send(ctx, input, "chat_cli", func(ev chat.Event) bool {
			printEvent(out, ev)
			return ctx.Err() == nil
		})
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printLine(out io.Writer, line chat.Line) {
	if line.Persona == "" {
		fmt.Fprintf(out, "you: %s\n", line.Text)
		return
	}
	fmt.Fprintf(out, "%s (%s): %s\n", line.Persona, line.Mood, line.Text)
}

func printEvent(out io.Writer, ev chat.Event) {
	switch ev.Type {
	case chat.EventHandoff, chat.EventReply:
		r := ev.Result
		fmt.Fprintf(out, "%s (%s): %s\n", r.Persona, r.Mood, r.Text)
		for _, inv := range r.Invocations {
			fmt.Fprintf(out, "   [%s %s] %s\n", inv.Name, inv.Status, inv.Result)
		}
	case chat.EventAlarm:
		label := ev.Alarm.Label
		if label == "" {
			label = ev.Alarm.Kind
		}
		fmt.Fprintf(out, "\n** %s: %s **\n", ev.Alarm.At.Format("15:04"), label)
	default:
		fmt.Fprintln(out, "...")
	}
}
