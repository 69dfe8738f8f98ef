// submodule cmd contains the root command definition
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotify-mcp/internal/shared"
)

const (
	appName = "spotify-mcp"
	version = "0.1.0"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand(runAction).Run(ctx, args)
}

func rootCommand(action cli.ActionFunc) *cli.Command {
	return &cli.Command{
		Name:    appName,
		Usage:   "MCP server exposing Spotify tools over stdio",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "setup",
				Usage: "run the one-time OAuth flow and save a refresh token",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded into the environment before reading config",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "setup callback listener host",
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "setup callback listener port",
			},
			&cli.DurationFlag{
				Name:  "setup--timeout",
				Usage: "how long setup waits for the browser callback",
			},
			&cli.StringFlag{
				Name:  "setup--storage",
				Usage: "where setup saves credentials (dotenv|keyring)",
			},
		},
		Action: action,
	}
}

// runAction loads configuration and dispatches to serve or setup mode.
func runAction(ctx context.Context, cmd *cli.Command) error {
	config, err := loadConfig(cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := shared.NewLogger(nil)
	if err := shared.SetLogLevel(logger, config.Log.Level); err != nil {
		return err
	}

	runner := NewRunner(RunnerOpts{Config: config, Logger: logger})
	if cmd.Bool("setup") {
		return runner.Setup(ctx)
	}
	return runner.Serve(ctx)
}
