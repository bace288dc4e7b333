package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/triekv/triekv/internal/client"
	"github.com/triekv/triekv/internal/config"
	"github.com/triekv/triekv/internal/loader"
	"github.com/triekv/triekv/internal/logging"
	"github.com/triekv/triekv/internal/shell"
	"go.uber.org/zap"
)

type options struct {
	configPath  string
	serversFile string
	dataFile    string
	replication int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "triekv-client",
		Short: "Load data into a triekv cluster and query it interactively",
		Long: `Connects to every server of the server file, writes every record of the
data file to k randomly chosen servers, then reads commands:

  GET <key> | DELETE <key> | QUERY <keypath> | COMPUTE <formula> | HELP | EXIT`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&opts.serversFile, "servers", "s", "", "file with one '<host> <port>' pair per line")
	cmd.Flags().StringVarP(&opts.dataFile, "input", "i", "", "file with one JSON object per line to load")
	cmd.Flags().IntVarP(&opts.replication, "replication", "k", 0, "replication factor")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("servers") {
		cfg.ServersFile = opts.serversFile
	}
	if cmd.Flags().Changed("input") {
		cfg.DataFile = opts.dataFile
	}
	if cmd.Flags().Changed("replication") {
		cfg.Client.ReplicationFactor = opts.replication
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.ClientConfig) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	servers, err := loader.LoadServers(cfg.ServersFile, logger)
	if err != nil {
		return err
	}

	cluster, err := client.Connect(ctx, servers, &client.Config{
		ReplicationFactor: cfg.Client.ReplicationFactor,
		DialTimeout:       cfg.Client.DialTimeout,
		RequestTimeout:    cfg.Client.RequestTimeout,
		ProbeTimeout:      cfg.Client.ProbeTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cluster.Close(); err != nil {
			logger.Warn("Failed to close every replica cleanly", zap.Error(err))
		}
	}()

	if cfg.DataFile != "" {
		records, err := loader.LoadRecords(cfg.DataFile)
		if err != nil {
			return err
		}
		targets, err := cluster.Put(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to load data: %w", err)
		}
		fmt.Printf("stored %d records on %v\n", len(records), targets)
	}

	rl, err := readline.New(shell.Prompt)
	if err != nil {
		return fmt.Errorf("failed to open terminal: %w", err)
	}
	defer rl.Close()

	// Ctrl-C is handled by readline as an interrupt of the current line.
	signal.Ignore(os.Interrupt)

	return shell.New(cluster, rl.Stdout(), logger).Run(ctx, rl)
}
