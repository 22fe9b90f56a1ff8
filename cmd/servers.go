package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/toolrelay/toolrelay/internal/dependency"
	"github.com/toolrelay/toolrelay/internal/mcp"
	"github.com/toolrelay/toolrelay/internal/shared/cmdutils"
	"github.com/toolrelay/toolrelay/internal/shared/llmutils"
)

const shutdownGrace = 5 * time.Second

// startServers connects every configured server. Conflicts are reported
// and tolerated; the first server to claim a name keeps it.
func startServers(ctx context.Context, c *dependency.Container) {
	err := c.Servers().Start(ctx)
	var conflict *mcp.ConflictError
	if errors.As(err, &conflict) {
		for _, cf := range conflict.Conflicts {
			fmt.Fprintf(os.Stderr, "warning: %s\n", cf)
		}
	}
	for _, st := range c.Servers().Servers() {
		if st.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: server %s failed to start: %v\n", st.ID, st.Err)
		}
	}
}

func closeContainer(c *dependency.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: shutdown: %v\n", err)
	}
}

func printServers(w io.Writer, servers []mcp.ServerStatus) {
	tw := cmdutils.Table(w)
	fmt.Fprintln(tw, "SERVER\tTRANSPORT\tSTATE\tTOOLS\tERROR")
	for _, st := range servers {
		errText := ""
		if st.Err != nil {
			errText = llmutils.Truncate(st.Err.Error(), 60)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", st.ID, st.Transport, st.State, st.Tools, errText)
	}
	tw.Flush()
}

func printTools(w io.Writer, c *dependency.Container) {
	tw := cmdutils.Table(w)
	fmt.Fprintln(tw, "TOOL\tSERVER\tDESCRIPTION")
	for _, d := range c.Registry().Catalog() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Server, llmutils.Truncate(d.Description, 60))
	}
	tw.Flush()
}
