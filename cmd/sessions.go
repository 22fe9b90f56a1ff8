package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/schema"
	"github.com/toolrelay/toolrelay/internal/session"
	"github.com/toolrelay/toolrelay/internal/shared/cmdutils"
	"github.com/toolrelay/toolrelay/internal/shared/llmutils"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse archived conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived conversations, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func openArchive() (*session.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.ArchivePath()
	if path == "" {
		return nil, fmt.Errorf("session archiving is off: set sessions.archiveDsn in %s", configPath())
	}
	return session.OpenSQLite(path)
}

func runSessionsList(_ *cobra.Command, _ []string) error {
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	sums, err := store.List(context.Background(), sessionsLimit)
	if err != nil {
		return err
	}
	tw := cmdutils.Table(os.Stdout)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tTURNS")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.CreatedAt.Format(time.DateTime), s.EndedAt.Sub(s.CreatedAt).Round(time.Second), s.Turns)
	}
	return tw.Flush()
}

func runSessionsShow(_ *cobra.Command, args []string) error {
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}
	for _, t := range rec.Turns {
		fmt.Println(formatTurn(t))
	}
	return nil
}

func formatTurn(t schema.Turn) string {
	switch t.Kind {
	case schema.TurnUser:
		return "You: " + t.Text
	case schema.TurnAgent:
		return logo + " " + t.Text
	case schema.TurnInvocation:
		if t.Invocation == nil {
			return ""
		}
		return fmt.Sprintf("  → [%d] %s", t.Step, llmutils.ToolHint(t.Invocation.Tool, t.Invocation.Arguments))
	case schema.TurnObservation:
		if t.Observation == nil {
			return ""
		}
		return fmt.Sprintf("  ← [%d] %s: %s", t.Step, t.Observation.Tool, llmutils.Truncate(t.Observation.Text(), 120))
	}
	return ""
}
