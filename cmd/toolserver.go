package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/toolserver"
)

// toolserverCmd serves the built-in tools over stdio. The default config
// launches it as the "demo" server.
var toolserverCmd = &cobra.Command{
	Use:       "toolserver <demo|web|files> [dir]",
	Short:     "Serve a built-in tool server on stdin/stdout",
	Hidden:    true,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"demo", "web", "files"},
	RunE:      runToolserver,
}

func runToolserver(_ *cobra.Command, args []string) error {
	var srv *toolserver.Server
	switch args[0] {
	case "demo":
		srv = toolserver.Demo(version)
	case "web":
		srv = toolserver.Web(version)
	case "files":
		root := "."
		if len(args) == 2 {
			root = args[1]
		}
		var err error
		if srv, err = toolserver.Files(version, root); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown tool server %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
