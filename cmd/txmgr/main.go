package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "txmgr",
		Usage: "EVM transaction manager",
		Description: `txmgr submits transactions from a single sender: it assigns nonces, estimates gas
and fees, signs with a private key or AWS KMS, broadcasts, and replaces stuck
transactions with higher fees until they are mined.`,
		Version: "1.0.0",
		Authors: []*cli.Author{
			{
				Name:  "EigenLayer",
				Email: "support@eigenlayer.xyz",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (TXMGR_* environment variables override it)",
				EnvVars: []string{"TXMGR_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Node RPC URL",
				EnvVars: []string{"RPC_URL"},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Usage:   "Expected chain ID; the node must report the same one",
				EnvVars: []string{"CHAIN_ID"},
			},
			// Transaction signing options
			&cli.StringFlag{
				Name:    "tx-private-key",
				Usage:   "Private key for transaction signing (hex format, with or without 0x prefix)",
				EnvVars: []string{"TX_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "tx-aws-kms-key-id",
				Usage:   "AWS KMS key ID for transaction signing",
				EnvVars: []string{"TX_AWS_KMS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "tx-aws-region",
				Usage:   "AWS region for transaction signing KMS key",
				EnvVars: []string{"TX_AWS_REGION"},
			},
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "Path of the bbolt journal of pending submissions",
				EnvVars: []string{"JOURNAL_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "send",
				Aliases: []string{"s"},
				Usage:   "Submit one transaction and wait for its receipt",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "to",
						Usage: "Recipient address (omit to deploy --data as a contract)",
					},
					&cli.StringFlag{
						Name:  "value",
						Usage: "Amount to transfer, as a decimal in --unit",
					},
					&cli.StringFlag{
						Name:  "unit",
						Usage: "Unit of --value: wei, gwei or ether",
						Value: "wei",
					},
					&cli.StringFlag{
						Name:  "data",
						Usage: "0x-prefixed calldata",
					},
					&cli.Uint64Flag{
						Name:  "gas-limit",
						Usage: "Gas limit (defaults to a buffered estimate)",
					},
				},
				Action: sendAction,
			},
			{
				Name:    "worker",
				Aliases: []string{"w"},
				Usage:   "Submit intents consumed from a Redis stream or Kafka topic",
				Description: `Consume JSON intents from the configured queue, submit each one and publish
its outcome. Prometheus metrics are served on --metrics-addr.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "metrics-addr",
						Usage:   "Listen address for /metrics (empty disables it)",
						EnvVars: []string{"METRICS_ADDR"},
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Usage:   "Number of intents submitted at once",
						EnvVars: []string{"WORKER_CONCURRENCY"},
					},
				},
				Action: workerAction,
			},
			{
				Name:    "pending",
				Aliases: []string{"p"},
				Usage:   "List journaled submissions that were broadcast but never confirmed",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "abandoned",
						Usage: "Only list submissions given up as stuck or failed",
					},
				},
				Action: pendingAction,
			},
		},
		Before:   loadConfig,
		Metadata: map[string]interface{}{},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
