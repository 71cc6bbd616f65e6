package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"uvdm/internal/infrastructure"
	"uvdm/internal/server"
	transport "uvdm/internal/transport/http"
)

const banner = `
 _   ___     ______  __  __
| | | \ \   / /  _ \|  \/  |
| | | |\ \ / /| | | | |\/| |
| |_| | \ V / | |_| | |  | |
 \___/   \_/  |____/|_|  |_|  license server
`

func newServeCmd(version string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the UVDM license server",
		Long:  "Start the HTTP server that verifies licenses and receives payment provider webhooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(version, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")

	return cmd
}

func runServe(version, host string, port int) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	transport.Version = version

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	logger.Info("starting license server",
		slog.String("version", version),
		slog.String("addr", cfg.ListenAddr()),
		slog.String("data_dir", cfg.Storage.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
