package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/triekv/triekv/internal/config"
	"github.com/triekv/triekv/internal/handler"
	"github.com/triekv/triekv/internal/health"
	"github.com/triekv/triekv/internal/logging"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/server"
	"github.com/triekv/triekv/internal/service"
	"github.com/triekv/triekv/internal/storage/trie"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	host       string
	port       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "triekv-server",
		Short: "Run a trie key-value store server",
		Long: `Runs one store server. Clients speak a line protocol over TCP:

  PING | PUT <json> | GET <key> | DELETE <key> | QUERY <keypath> | COMPUTE <formula> | EXIT`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	cmd.Flags().StringVarP(&opts.host, "address", "a", "", "address to listen on (overrides server.host)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("address") {
		cfg.Server.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		if cfg.Server.NodeID == fmt.Sprintf("triekv-%d", cfg.Server.Port) {
			cfg.Server.NodeID = fmt.Sprintf("triekv-%d", opts.port)
		}
		cfg.Server.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("node_id", cfg.Server.NodeID))

	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One trie per process, shared by every connection.
	m := metrics.NewMetrics(cfg.Server.NodeID)
	storeSvc := service.NewStoreService(trie.New(), m, logger, cfg.Server.NodeID)
	commandHandler := handler.NewCommandHandler(storeSvc, m, logger)

	storeServer := server.NewStoreServer(&server.StoreServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		MaxConnections:    cfg.Server.MaxConnections,
		IdleTimeout:       cfg.Server.IdleTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxLineBytes:      cfg.Server.MaxLineBytes,
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
	}, commandHandler, m, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:        cfg.Server.NodeID,
		CheckInterval: cfg.Health.CheckInterval,
	}, storeSvc, storeServer, logger)
	go checker.Start(ctx)

	var gossipSvc *service.GossipService
	if cfg.Gossip.Enabled {
		gossipSvc, err = service.NewGossipService(&service.GossipConfig{
			Enabled:        cfg.Gossip.Enabled,
			BindAddr:       cfg.Server.Host,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.NodeID, listener.Addr().String(), m, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
			gossipSvc = nil
		} else {
			logger.Info("Gossip service initialized")
			go publishHealth(ctx, checker, gossipSvc, cfg.Health.CheckInterval)
		}
	}

	var grpcHealth *health.GRPCHealthServer
	if cfg.Health.GRPCEnabled {
		grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Health.GRPCPort))
		grpcLis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
		grpcHealth = health.NewGRPCHealthServer(checker, logger)
		go func() {
			if err := grpcHealth.Serve(grpcLis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		var members server.MemberLister
		if gossipSvc != nil {
			members = gossipSvc
		}
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Host:            cfg.Server.Host,
			Port:            cfg.Metrics.Port,
			Path:            cfg.Metrics.Path,
			CollectInterval: cfg.Health.CheckInterval,
		}, m, checker, members, logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- storeServer.Serve(listener) }()

	logger.Info("Store server starting", zap.String("address", listener.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("Store server failed", zap.Error(runErr))
		}
	}

	checker.SetReadiness(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := storeServer.Stop(shutdownCtx); err != nil {
		logger.Warn("Store server did not drain in time", zap.Error(err))
	}
	if gossipSvc != nil {
		if err := gossipSvc.Shutdown(); err != nil {
			logger.Warn("Failed to shut down gossip", zap.Error(err))
		}
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}

	logger.Info("Store server stopped")
	return runErr
}

// publishHealth gossips the local health figures every interval
func publishHealth(ctx context.Context, checker *health.HealthChecker, gossipSvc *service.GossipService, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			gossipSvc.UpdateHealthStatus(checker.GetStatus().Metrics)
		case <-ctx.Done():
			return
		}
	}
}
