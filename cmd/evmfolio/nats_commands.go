package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/evmfolio/evmfolio/service/nats"
)

// subscribeBlocksCommand streams new-head block events for a network.
func subscribeBlocksCommand() *cli.Command {
	return &cli.Command{
		Name:      "blocks",
		Usage:     "Stream new-head block events for a network",
		ArgsUsage: "[network]",
		Description: `Subscribe to block events published to NATS JetStream.

Events are published to the subject: blocks.{network}

Example:
  evmfolio nats blocks ethereum --json`,
		Flags: []cli.Flag{
			natsURLFlag(),
		},
		Action: func(c *cli.Context) error {
			networkID := c.Args().Get(0)
			if networkID == "" {
				networkID = "ethereum"
			}
			subject := fmt.Sprintf("blocks.%s", networkID)

			return streamEvents(c.String("nats-url"), subject, c.Bool("json"), func(data []byte, jsonOutput bool) error {
				var event natspkg.BlockEvent
				if err := json.Unmarshal(data, &event); err != nil {
					return fmt.Errorf("failed to parse block event: %w", err)
				}
				if jsonOutput {
					out, _ := json.Marshal(event)
					fmt.Println(string(out))
				} else {
					fmt.Printf("block %d %s (%s)\n", event.Number, event.Hash,
						event.Timestamp.Format("15:04:05"))
				}
				return nil
			})
		},
	}
}

// subscribeTransactionsCommand streams reconciled transaction events.
func subscribeTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream reconciled transaction events for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Subscribe to transaction events published to NATS JetStream.

Events are published to the subject: txns.{network}.{wallet_address}

Example:
  evmfolio nats subscribe 0x742d35cc6634c0532925a3b844bc454e4438f44e --network ethereum --json`,
		Flags: []cli.Flag{
			natsURLFlag(),
			networkFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}

			subject := fmt.Sprintf("txns.%s.%s", c.String("network"), c.Args().Get(0))

			return streamEvents(c.String("nats-url"), subject, c.Bool("json"), printTransactionEvent)
		},
	}
}

// awaitTransactionCommand blocks until a matching transaction event arrives.
func awaitTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transaction matching criteria arrives",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			natsURLFlag(),
			networkFlag(),
			&cli.StringFlag{
				Name:  "hash",
				Usage: "Filter by exact transaction hash",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for a matching transaction",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			hash := c.String("hash")
			jqFilters := c.StringSlice("must-jq")
			if hash == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --hash or --must-jq")
			}

			compiled, err := compileJQFilters(jqFilters)
			if err != nil {
				return err
			}

			matcher := func(event *natspkg.TransactionEvent) bool {
				if hash != "" && event.Hash != hash {
					return false
				}
				return jqFiltersMatch(compiled, event)
			}

			subject := fmt.Sprintf("txns.%s.%s", c.String("network"), c.Args().Get(0))
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for transaction on %s (timeout %v)...\n", subject, c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			matched := false
			err = streamEventsCtx(ctx, c.String("nats-url"), subject, func(data []byte) (bool, error) {
				var event natspkg.TransactionEvent
				if err := json.Unmarshal(data, &event); err != nil {
					return false, nil // skip unparseable events
				}
				if !matcher(&event) {
					return false, nil
				}

				matched = true
				if jsonOutput {
					out, _ := json.MarshalIndent(event, "", "  ")
					fmt.Println(string(out))
				} else {
					fmt.Printf("✓ Matched transaction %s (%s %s)\n", event.Hash, event.Type, event.Amount)
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			if !matched {
				return fmt.Errorf("timed out waiting for a matching transaction")
			}
			return nil
		},
	}
}

func natsURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "nats-url",
		Usage:   "NATS server URL",
		EnvVars: []string{"NATS_URL"},
		Value:   "nats://localhost:4222",
	}
}

// compileJQFilters parses and compiles the given jq expressions.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// jqFiltersMatch reports whether every compiled filter evaluates truthy
// against the event's JSON form.
func jqFiltersMatch(filters []*gojq.Code, event *natspkg.TransactionEvent) bool {
	if len(filters) == 0 {
		return true
	}

	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	default:
		return true
	}
}

func printTransactionEvent(data []byte, jsonOutput bool) error {
	var event natspkg.TransactionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to parse transaction event: %w", err)
	}
	if jsonOutput {
		out, _ := json.Marshal(event)
		fmt.Println(string(out))
	} else {
		fmt.Printf("%-9s %s %s (%s) block=%d hash=%s\n",
			event.Type, event.Amount, event.Network, event.Status,
			event.BlockNumber, event.Hash)
	}
	return nil
}

// streamEvents consumes the subject until interrupted, handing each message
// to print.
func streamEvents(natsURL, subject string, jsonOutput bool, print func([]byte, bool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return streamEventsCtx(ctx, natsURL, subject, func(data []byte) (bool, error) {
		if err := print(data, jsonOutput); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return false, nil
	})
}

// streamEventsCtx consumes the subject until ctx is done or handle returns
// true (stop).
func streamEventsCtx(ctx context.Context, natsURL, subject string, handle func([]byte) (bool, error)) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 16)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgChan:
			stop, err := handle(msg.Data())
			msg.Ack()
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}
