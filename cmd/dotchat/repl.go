package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/dotchat/pkg/agent"
	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/memory"
)

// interactiveChat runs the readline loop. Assistant output streams to
// the terminal through the event bus as it arrives; the final reply is
// not reprinted.
func interactiveChat(rt *runtimeParts) error {
	orch := rt.orchestrator

	unsubscribe := orch.Events().Subscribe(func(ev bus.Event) {
		switch ev.Type {
		case bus.EventTurnContent:
			fmt.Print(ev.Text)
		case bus.EventTurnToolCall:
			if ev.ToolCall != nil {
				fmt.Printf("\n[tool: %s]\n", ev.ToolCall.Name)
			}
		case bus.EventMemoryOptimized:
			fmt.Println("\n[memory optimized]")
		}
	})
	defer unsubscribe()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".dotchat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s interactive session (type /help for commands, Ctrl+D to exit)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}
		if strings.HasPrefix(input, "/") {
			if done := runSlashCommand(ctx, orch, input); done {
				return nil
			}
			continue
		}

		if _, err := orch.SendMessage(ctx, input, nil); err != nil {
			if errors.Is(err, agent.ErrTurnActive) {
				fmt.Println("A turn is still active; finish it first.")
				continue
			}
			fmt.Printf("\nError: %v\n", err)
			continue
		}
		fmt.Print("\n\n")
	}
}

// runSlashCommand handles session commands. It returns true when the
// session should end.
func runSlashCommand(ctx context.Context, orch *agent.Orchestrator, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Println(`Commands:
  /reset            start a fresh session
  /model [id]       show or switch the active model
  /stats            show token usage for the current history
  /optimize [name]  compress history now (summarize, truncate, prioritize, compress)
  /quit             exit`)
	case "/quit", "/exit":
		fmt.Println("Goodbye!")
		return true
	case "/reset":
		orch.Reset(ctx)
		fmt.Printf("Session reset (id %s)\n", orch.SessionID())
	case "/model":
		if len(fields) < 2 {
			fmt.Printf("Active model: %s\n", orch.Model())
			break
		}
		if err := orch.SetModel(fields[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		fmt.Printf("Switched to %s\n", fields[1])
	case "/stats":
		stats := orch.MemoryStats(ctx)
		estimated := ""
		if stats.Estimated {
			estimated = " (estimated)"
		}
		fmt.Printf("Tokens: %d / %d%s, available %d, compression recommended: %v\n",
			stats.TotalTokens, stats.ContextSize, estimated,
			stats.AvailableTokens, stats.CompressionRecommended)
	case "/optimize":
		opts := &agent.SendOptions{ForceOptimization: true}
		if len(fields) > 1 {
			strategy, err := memory.ParseStrategy(fields[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				break
			}
			opts.Strategy = strategy
		}
		if err := optimizeNow(ctx, orch, opts); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	default:
		fmt.Printf("Unknown command %s (try /help)\n", fields[0])
	}
	return false
}

// optimizeNow compresses the current history without sending anything.
func optimizeNow(ctx context.Context, orch *agent.Orchestrator, opts *agent.SendOptions) error {
	before := orch.MemoryStats(ctx)
	if err := orch.OptimizeMemory(ctx, opts.Strategy); err != nil {
		return err
	}
	after := orch.MemoryStats(ctx)
	fmt.Printf("Optimized: %d -> %d tokens\n", before.TotalTokens, after.TotalTokens)
	return nil
}
