package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/ksched/internal/logging"
	"github.com/me/ksched/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		retention int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitor API",
		Long: `Start the HTTP monitor. Scenarios posted to /api/v1/runs run on their own
kernels; live kernels can be inspected while they run and every finished run
is recorded in the run database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				simCfg.Addr = addr
			}

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			srv := server.New(simCfg, st, logger,
				server.WithVersion(Version),
				server.WithRetention(retention),
				server.WithTracer(logging.NewEventLogger(logger)),
			)

			httpServer := &http.Server{
				Addr:              simCfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", simCfg.Addr, "policy", simCfg.Policy, "clock", simCfg.Clock)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("listen on %s: %w", simCfg.Addr, err)
				}
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			// Runs still in progress are halted and recorded before the store closes.
			srv.Close()
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().IntVar(&retention, "retention", 16, "Finished runs kept in memory for live inspection")

	return cmd
}
