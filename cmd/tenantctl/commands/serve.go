package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tenantctl/internal/app"
)

func serveCommand(appOpts []app.Option) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run a local proxy that authenticates management API calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serveAction(ctx, cmd, appOpts)
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command, appOpts []app.Option) error {
	s, err := newSession(ctx, cmd, appOpts)
	if err != nil {
		return err
	}
	defer s.Close(ctx, cmd)

	slog.InfoContext(ctx, "starting")

	if err := s.app.Serve(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
