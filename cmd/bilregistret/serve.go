package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bilregistret/internal/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start the bilregistret HTTP API server. It serves one-shot lookups,
a websocket stream of lookup snapshots, cache administration and sessions.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default: server.addr from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, cfg, logger, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(cfg, eng, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "bilregistret listening on http://%s\n", cfg.Server.Addr)
		serverErr <- server.Start(ctx)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
		logger.Info("Server stopped gracefully", nil)
	}
	return nil
}
