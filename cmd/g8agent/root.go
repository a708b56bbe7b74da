package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/graph8-com/g8browser/internal/agentclient"
	"github.com/graph8-com/g8browser/internal/config"
	"github.com/graph8-com/g8browser/internal/coordinator"
	"github.com/graph8-com/g8browser/internal/observability"
	"github.com/graph8-com/g8browser/internal/server"
	"github.com/graph8-com/g8browser/internal/taskstore"
	"github.com/graph8-com/g8browser/internal/webhook"
)

const version = "0.1.0"

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "g8agent",
		Short: "graph8 browser agent coordination service",
		Long: `g8agent connects to a graph8 task coordinator over websocket,
tracks task outcomes, and delivers results to a configured webhook.
It also serves a local HTTP API for task submission and inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(newServeCommand(&configPath, &debug))
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newServeCommand(configPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, *debug)
		},
	}
}

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(*configPath)
			out, err := mgr.Export()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(*configPath)
			if err := mgr.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration reset to defaults at %s\n", *configPath)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a configuration backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			mgr := config.NewManager(*configPath)
			if err := mgr.Import(string(data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration imported from %s\n", args[0])
			return nil
		},
	})

	return configCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "g8agent %s\n", version)
		},
	}
}

func runServe(configPath string, debug bool) error {
	configMgr := config.NewManager(configPath)
	cfg := configMgr.Get()
	if debug {
		cfg.Debug = true
	}

	metrics, err := observability.NewMetrics("g8agent", prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store := taskstore.New(filepath.Join(filepath.Dir(configPath), "tasks.json"))
	webhooks := webhook.NewDispatcher(configMgr, metrics)
	client := agentclient.New(metrics)
	facade := coordinator.New(store, configMgr, webhooks, client, nil, metrics)
	client.OnTask(facade.HandleSocketTask)

	if coord := cfg.Coordinator; coord.URL != "" {
		ok := client.Connect(agentclient.Config{
			URL:                  coord.URL,
			UserID:               coord.UserID,
			AuthToken:            coord.AuthToken,
			ReconnectInterval:    time.Duration(coord.ReconnectIntervalMS) * time.Millisecond,
			MaxReconnectAttempts: coord.MaxReconnectAttempts,
		})
		if !ok {
			fmt.Fprintln(os.Stderr, "Initial coordinator connection failed; service continues without a socket")
		}
	}

	srv := server.New(cfg.Server, server.Options{
		Facade:    facade,
		Store:     store,
		ConfigMgr: configMgr,
		Webhooks:  webhooks,
		Client:    client,
		Gatherer:  prometheus.DefaultGatherer,
		Debug:     cfg.Debug,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		client.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	return g.Wait()
}
