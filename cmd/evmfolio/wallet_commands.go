package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/evmfolio/evmfolio/client"
	"github.com/evmfolio/evmfolio/service/wallet"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet state commands",
		Subcommands: []*cli.Command{
			walletGetCommand(),
			walletRefreshCommand(),
			walletStatsCommand(),
		},
	}
}

func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"EVMFOLIO_SERVER_URL"},
	}
}

func networkFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "network",
		Aliases: []string{"n"},
		Usage:   "Network identifier (ethereum, bsc, polygon)",
		Value:   "ethereum",
	}
}

func jsonFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:    "json",
		Aliases: []string{"j"},
		Usage:   "Output as JSON",
	}
}

func errorLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func walletGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Aliases:   []string{"show"},
		Usage:     "Get the current state of a wallet (refreshes stale state)",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			networkFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			view, err := cl.GetWallet(context.Background(), address, c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(view, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			printWalletView(view)
			return nil
		},
	}
}

func walletRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Force a refresh cycle for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			networkFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			view, err := cl.RefreshWallet(context.Background(), address, c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to refresh wallet: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(view, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Println("✓ Wallet refreshed")
			printWalletView(view)
			return nil
		},
	}
}

func walletStatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show ledger aggregates for a tracked wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			networkFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			stats, err := cl.GetStats(context.Background(), address, c.String("network"))
			if err != nil {
				return fmt.Errorf("failed to get wallet stats: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(stats, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Println("Wallet Stats")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			fmt.Printf("Address:            %s\n", stats.Address)
			fmt.Printf("Network:            %s\n", stats.Network)
			fmt.Printf("Total Transactions: %d\n", stats.TotalTransactions)
			fmt.Printf("Total Received:     %s\n", stats.TotalReceived)
			fmt.Printf("Total Sent:         %s\n", stats.TotalSent)
			fmt.Printf("View Count:         %d\n", stats.ViewCount)
			if stats.FirstTransaction != nil {
				fmt.Printf("First Transaction:  %s\n", stats.FirstTransaction.Format("2006-01-02 15:04:05 MST"))
			}
			if stats.LastTransaction != nil {
				fmt.Printf("Last Transaction:   %s\n", stats.LastTransaction.Format("2006-01-02 15:04:05 MST"))
			}
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			return nil
		},
	}
}

func networksCommand() *cli.Command {
	return &cli.Command{
		Name:  "networks",
		Usage: "List the supported networks",
		Flags: []cli.Flag{
			serverFlag(),
			jsonFlag(),
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), nil, errorLogger())

			networks, err := cl.ListNetworks(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list networks: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(networks, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			for _, n := range networks {
				fmt.Printf("%-10s chain-id=%-6d symbol=%-6s %s\n", n.ID, n.ChainID, n.Symbol, n.Name)
			}
			return nil
		},
	}
}

func authCommands() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Signature login commands",
		Subcommands: []*cli.Command{
			{
				Name:      "verify",
				Usage:     "Verify an EIP-191 personal-sign signature against an address",
				ArgsUsage: "MESSAGE SIGNATURE ADDRESS",
				Flags: []cli.Flag{
					serverFlag(),
					jsonFlag(),
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 3 {
						return fmt.Errorf("message, signature, and address are required")
					}

					message := c.Args().Get(0)
					signature := c.Args().Get(1)
					address := c.Args().Get(2)
					cl := client.NewClient(c.String("server"), nil, errorLogger())

					result, err := cl.VerifyLogin(context.Background(), message, signature, address)
					if err != nil {
						return fmt.Errorf("failed to verify login: %w", err)
					}

					if c.Bool("json") {
						data, _ := json.Marshal(result)
						fmt.Println(string(data))
					} else if result.Verified {
						fmt.Printf("✓ Signature verified for %s\n", result.Address)
					} else {
						fmt.Printf("✗ Signature verification failed for %s\n", address)
					}

					if !result.Verified {
						os.Exit(1)
					}
					return nil
				},
			},
		},
	}
}

func printWalletView(view *wallet.View) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Wallet")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Address:     %s\n", view.Address)
	fmt.Printf("Network:     %s (%s)\n", view.NetworkName, view.Network)
	fmt.Printf("Balance:     %s %s\n", view.Balance, view.Symbol)
	fmt.Printf("Balance USD: $%s\n", view.BalanceUSD)
	if view.LastUpdated != nil {
		fmt.Printf("Updated:     %s\n", view.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}
	if view.Stale {
		fmt.Println("Note:        state is stale; the last refresh attempt failed")
	}
	if len(view.RecentTransactions) > 0 {
		fmt.Println()
		fmt.Println("Recent Transactions:")
		for _, txn := range view.RecentTransactions {
			fmt.Printf("  %-9s %s %s (%s) %s\n",
				txn.Type, txn.Amount, view.Symbol, txn.Status,
				txn.BlockTimestamp.Format("2006-01-02 15:04"))
		}
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}
