package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/skillhub/internal/gateway"
	"github.com/dohr-michael/skillhub/internal/jobs"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the Skillhub gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.IsSet("host") {
		a.cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		a.cfg.Gateway.Port = cmd.Int("port")
	}

	if expr := a.cfg.Ingest.RefreshCron; expr != "" {
		refresher, err := jobs.NewRefresher(expr, a.orch)
		if err != nil {
			return err
		}
		refresher.Start()
		defer refresher.Stop()
	}

	server := gateway.NewServer(a.cfg.Gateway.Host, a.cfg.Gateway.Port,
		a.bus, a.store, a.router, a.assembler, a.collector, a.adapter, a.orch)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
