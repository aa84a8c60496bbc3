package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/tasksync/internal/devserver"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an in-memory task backend for local development",
	Long: `Run an in-memory implementation of the task REST backend.

Tasks live only as long as the process. Point api.base_url at the printed
address to use the other commands against it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", serveAddr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving tasks on http://%s/tasks\n", ln.Addr())
		return serveBackend(ctx, ln, devserver.New().Handler())
	},
}

// serveBackend serves h on ln until ctx is done, then shuts down gracefully.
func serveBackend(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}
