package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/agent"
	"github.com/toolrelay/toolrelay/internal/dependency"
	"github.com/toolrelay/toolrelay/internal/shared/cmdutils"
)

var agentMessage string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Interact with the agent",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Send a single message and exit")
}

var exitCommands = map[string]bool{
	"bye":   true,
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// repl holds the state of one interactive or single-shot agent run.
type repl struct {
	container *dependency.Container
	svc       *agent.Service

	mu      sync.Mutex
	session string

	busy     atomic.Bool
	shutdown sync.Once
}

func runAgent(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	container, err := dependency.New(cfg, version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startServers(ctx, container)
	go func() { _ = container.Health().Start(ctx) }()

	r := &repl{container: container, svc: container.Service()}
	r.session = r.svc.StartSession()
	defer r.close()

	if agentMessage != "" {
		return r.runSingleMessage(ctx)
	}
	return r.runInteractive(ctx, cancel)
}

func (r *repl) currentSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// close ends the session, archiving it, and stops every server. Safe to
// call from the signal goroutine and the main path.
func (r *repl) close() {
	r.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := r.svc.EndSession(ctx, r.currentSession()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		closeContainer(r.container)
	})
}

// runSingleMessage sends one message to the agent and prints the response.
func (r *repl) runSingleMessage(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
	answer, err := r.svc.PostUserMessage(withProgressPrinter(ctx), r.currentSession(), agentMessage)
	if err != nil {
		return err
	}
	cmdutils.PrintResponse(answer)
	return nil
}

// runInteractive starts the REPL loop: reads lines from stdin, runs one
// turn per line and prints the answer before prompting again.
func (r *repl) runInteractive(ctx context.Context, cancel context.CancelFunc) error {
	fmt.Printf("%s Interactive mode (type 'bye' to quit, /help for commands)\n\n", logo)

	r.listenForSignals(cancel)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}
		if strings.HasPrefix(line, "/") {
			r.handleSlashCommand(ctx, line)
			continue
		}

		r.busy.Store(true)
		answer, err := r.svc.PostUserMessage(withProgressPrinter(ctx), r.currentSession(), line)
		r.busy.Store(false)
		if err != nil {
			fmt.Printf("\nError: %v\n\n", err)
			continue
		}
		cmdutils.PrintResponse(answer)
	}
}

// listenForSignals cancels the running turn on the first Ctrl+C. A Ctrl+C
// with no turn in flight, or SIGTERM, shuts down and exits.
func (r *repl) listenForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGINT && r.busy.CompareAndSwap(true, false) {
				fmt.Println("\n  ↳ cancelling (Ctrl+C again to quit)")
				_ = r.svc.Cancel(r.currentSession())
				continue
			}
			fmt.Println("\nGoodbye!")
			cancel()
			r.close()
			os.Exit(0)
		}
	}()
}

func withProgressPrinter(ctx context.Context) context.Context {
	return agent.WithProgress(ctx, func(ev agent.ProgressEvent) {
		switch ev.Kind {
		case agent.ProgressThinking, agent.ProgressCalls:
			cmdutils.PrintProgress(ev.Text)
		case agent.ProgressObservation:
			if res := ev.Result; res != nil && !res.OK() {
				cmdutils.PrintProgress(fmt.Sprintf("%s: %s", res.Tool, res.Kind()))
			}
		}
	})
}

const helpText = `toolrelay commands:
/tools          List the aggregated tool catalog
/servers        Show tool server states
/restart <id>   Restart one tool server
/stats          Tool call statistics
/new            Archive this conversation and start a new one
/help           Show available commands
bye             Quit`

func (r *repl) handleSlashCommand(ctx context.Context, line string) {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/tools":
		printTools(os.Stdout, r.container)
	case "/servers":
		printServers(os.Stdout, r.container.Servers().Servers())
	case "/restart":
		if len(fields) != 2 {
			fmt.Println("usage: /restart <server-id>")
			return
		}
		if err := r.container.Servers().Restart(ctx, fields[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("✓ %s restarted\n", fields[1])
	case "/stats":
		r.printStats(ctx)
	case "/new":
		r.newSession(ctx)
	case "/help":
		fmt.Println(helpText)
	default:
		fmt.Printf("unknown command %s (try /help)\n", fields[0])
	}
}

func (r *repl) newSession(ctx context.Context) {
	r.mu.Lock()
	old := r.session
	r.session = r.svc.StartSession()
	r.mu.Unlock()

	if err := r.svc.EndSession(ctx, old); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	fmt.Println("New session started.")
}

func (r *repl) printStats(ctx context.Context) {
	stats, err := r.container.Telemetry().Stats(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Turns: %d  Decisions: %d\n", stats.Turns, stats.Decisions)
	tw := cmdutils.Table(os.Stdout)
	fmt.Fprintln(tw, "TOOL\tCALLS\tFAILURES\tMEAN LATENCY")
	for _, ts := range stats.Tools {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", ts.Tool, ts.Calls, ts.Failures, ts.MeanLatency.Round(time.Millisecond))
	}
	tw.Flush()
}
