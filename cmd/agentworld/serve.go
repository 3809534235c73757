// ABOUTME: serve subcommand that runs the HTTP gateway
// ABOUTME: Wires config, store, broker provider, and world registry together

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/agentworld/internal/bus"
	"github.com/2389/agentworld/internal/config"
	"github.com/2389/agentworld/internal/gateway"
	"github.com/2389/agentworld/internal/store"
	"github.com/2389/agentworld/internal/world"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath())
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Broker:    %s", cfg.Broker.Provider)
	if cfg.Broker.Provider == "kafka" {
		cyan.Printf(" %s", strings.Join(cfg.Broker.Brokers, ","))
	}
	fmt.Println()
	if !cfg.Events.Persist {
		yellow.Println("    ! event persistence disabled")
	}
	fmt.Println()

	logger.Info("starting agentworld",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
		"broker", cfg.Broker.Provider,
	)

	s, err := openStore(cfg)
	if err != nil {
		return err
	}

	registry := world.NewRegistry(world.Config{
		Store:            s,
		Providers:        providerFactory(cfg, logger),
		Persist:          cfg.Events.Persist,
		HistoryLimit:     cfg.Events.HistoryLimit,
		DefaultTurnLimit: cfg.Worlds.DefaultTurnLimit,
		Logger:           logger,
	})

	gw, err := gateway.New(cfg, registry, s, logger)
	if err != nil {
		_ = registry.Close()
		_ = s.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.OpenSQLite(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// providerFactory picks in-process delivery or the Kafka broker.
func providerFactory(cfg *config.Config, logger *slog.Logger) bus.ProviderFactory {
	if cfg.Broker.Provider != "kafka" {
		return bus.LocalFactory(logger)
	}
	return bus.KafkaFactory(bus.KafkaConfig{
		Brokers:       cfg.Broker.Brokers,
		TopicPrefix:   cfg.Broker.TopicPrefix,
		ConsumerGroup: cfg.Broker.ConsumerGroup,
		InstanceID:    "agentworld-" + uuid.New().String()[:8],
		DedupeTTL:     cfg.Broker.DedupeTTL,
	}, logger)
}
