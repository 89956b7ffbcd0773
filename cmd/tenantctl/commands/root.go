package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tenantctl/internal/app"
	"github.com/florianilch/tenantctl/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

// newRootCommand builds the command tree. appOpts are passed to every app.New call.
func newRootCommand(appOpts ...app.Option) *cli.Command {
	return &cli.Command{
		Name:  "tenantctl",
		Usage: "Identity tenant management client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel|otlp)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "auth--domain",
				Usage: "tenant domain, e.g. example.eu.auth0.com",
			},
			&cli.StringFlag{
				Name:  "auth--client-id",
				Usage: "client ID of the machine-to-machine application",
			},
			&cli.StringFlag{
				Name:  "auth--audience",
				Usage: "token audience (default https://{domain}/api/v2/)",
			},
			&cli.StringFlag{
				Name:  "auth--scope",
				Usage: "space delimited scopes to request",
			},
			&cli.BoolFlag{
				Name:  "auth--use-cache",
				Usage: "reuse access tokens until they expire",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "auth--credentials-file",
				Usage: "JSON file with domain, client_id and client_secret",
			},
			&cli.StringFlag{
				Name:  "auth--secret-storage",
				Usage: "where the client secret is kept (inline|file|env|keyring)",
				Value: string(app.DefaultConfigSecretStorage),
			},
		},
		Commands: []*cli.Command{
			tokenCommand(appOpts),
			loginCommand(),
			getCommand(appOpts),
			deleteCommand(appOpts),
			serveCommand(appOpts),
		},
	}
}

// session is the state shared by commands that talk to the tenant.
type session struct {
	cfg      *app.Config
	app      *app.App
	shutdown observability.ShutdownFunc
}

// Close flushes the log pipeline.
func (s *session) Close(ctx context.Context, cmd *cli.Command) {
	if err := s.shutdown(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintln(stderr(cmd), "failed to flush logs:", err)
	}
}

// newSession loads configuration, installs logging and creates the app.
func newSession(ctx context.Context, cmd *cli.Command, appOpts []app.Option) (*session, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat),
		observability.WithWriter(stderr(cmd)))
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg, appOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create app: %w", err), shutdown(ctx))
	}

	return &session{cfg: cfg, app: application, shutdown: shutdown}, nil
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
