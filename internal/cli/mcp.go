package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	tsmcp "github.com/valter-silva-au/tasksync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the tsync MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tsync MCP server on stdio",
	Long: `Start the tsync MCP server on stdio transport.

The server exposes the task collection as MCP tools: list_tasks, get_task,
create_task, update_task, delete_task, get_stats, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Sync == nil {
			return errNotInitialized
		}

		srv := tsmcp.NewServer(Sync, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if Refresher != nil {
			if err := Refresher.Start(ctx); err != nil {
				return err
			}
			defer Refresher.Stop()
		}

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
