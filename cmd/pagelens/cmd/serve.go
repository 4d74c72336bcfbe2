package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the layout-parsing HTTP server",
	Long: `Start an HTTP server exposing the layout-parsing API.

Endpoints:
  POST /layout-parsing     - Parse a document (JSON request)
  GET  /layout-parsing/ws  - WebSocket variant streaming per-page results
  GET  /health             - Health check
  GET  /metrics            - Prometheus metrics

Examples:
  pagelens serve
  pagelens serve --port 3000 --auth-token secret
  pagelens serve --backend-url http://gpu-box:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("auth-token") {
			cfg.Server.AuthToken, _ = cmd.Flags().GetString("auth-token")
		}
		if cmd.Flags().Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
		}
		if cmd.Flags().Changed("max-upload-size") {
			cfg.Server.MaxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
		}
		if cmd.Flags().Changed("timeout") {
			cfg.Server.TimeoutSec, _ = cmd.Flags().GetInt("timeout")
		}
		if cmd.Flags().Changed("shutdown-timeout") {
			cfg.Server.ShutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}
		if cmd.Flags().Changed("rate-limit-per-minute") {
			cfg.Server.RateLimitPerMinute, _ = cmd.Flags().GetInt("rate-limit-per-minute")
		}
		if cmd.Flags().Changed("workers") {
			cfg.Pipeline.Workers, _ = cmd.Flags().GetInt("workers")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		backend, err := infer.NewClient(infer.Config{
			BaseURL:     cfg.Backend.URL,
			Token:       cfg.Backend.Token,
			Timeout:     time.Duration(cfg.Backend.TimeoutSec) * time.Second,
			MaxInflight: int64(cfg.Backend.MaxInflight),
			JPEGQuality: cfg.Backend.JPEGQuality,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize inference client: %w", err)
		}

		srv, err := server.New(cfg, backend, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			if err := srv.Start(); err != nil {
				slog.Error("server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("context cancelled, initiating shutdown")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
			return err
		}
		slog.Info("graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "0.0.0.0", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("auth-token", "", "required API token (empty disables auth)")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 100, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 300, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("rate-limit-per-minute", 0, "maximum requests per minute per client (0 disables)")
	serveCmd.Flags().Int("workers", 0, "concurrent page workers (0 = number of CPUs)")
}
