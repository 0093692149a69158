package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "evmfolio",
		Usage: "EVM wallet tracking service CLI",
		Description: `A command-line tool for querying and debugging the evmfolio service.

Use this CLI to read wallet state, force refreshes, verify login signatures,
and stream block and transaction events from NATS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			walletCommands(),
			networksCommand(),
			authCommands(),
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeBlocksCommand(),
					subscribeTransactionsCommand(),
					awaitTransactionCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Server URL",
				EnvVars: []string{"EVMFOLIO_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
