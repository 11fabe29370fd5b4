package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/multisig/internal/httpd"
	"github.com/luxfi/multisig/pkg/auth"
	"github.com/luxfi/multisig/pkg/broadcast"
	"github.com/luxfi/multisig/pkg/coordinator"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/node"
	"github.com/luxfi/multisig/pkg/store/memstore"
	"github.com/luxfi/multisig/pkg/team"
)

var (
	configPath string
	listenAddr string
	nodeURL    string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "multisig-server",
		Short: "Coordination server for threshold multi-signature spending",
		Long: `multisig-server coordinates m-of-n signing rounds for spending from
threshold addresses: it collects commitments, simulates absent signers,
collects partial proofs, assembles the final transaction and broadcasts it.
It never holds signing secrets.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		RunE:  runServe,
	}

	checkConfigCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print the effective values",
		RunE:  runCheckConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON config file")
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVarP(&nodeURL, "node", "n", "", "Node base URL (overrides config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, checkConfigCmd)
}

func loadEffectiveConfig() (Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if nodeURL != "" {
		cfg.NodeURL = nodeURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listen:       %s\n", cfg.Listen)
	fmt.Fprintf(cmd.OutOrStdout(), "node:         %s\n", cfg.NodeURL)
	fmt.Fprintf(cmd.OutOrStdout(), "engine:       %s\n", cfg.EngineURL)
	fmt.Fprintf(cmd.OutOrStdout(), "network:      %s\n", cfg.Network)
	fmt.Fprintf(cmd.OutOrStdout(), "snapshot:     %s\n", cfg.SnapshotPath)
	fmt.Fprintf(cmd.OutOrStdout(), "tick:         %s\n", cfg.BroadcastTick())
	fmt.Fprintf(cmd.OutOrStdout(), "rpc timeout:  %s\n", cfg.RPCTimeout())
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

	level, ok := slog.LevelFromString(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	backend := slog.NewBackend(os.Stdout)
	newLogger := func(subsystem string) slog.Logger {
		l := backend.Logger(subsystem)
		l.SetLevel(level)
		return l
	}
	log := newLogger("MAIN")

	network, err := hdkey.ParseNetwork(cfg.Network)
	if err != nil {
		return err
	}

	st := memstore.New()
	if cfg.SnapshotPath != "" {
		if err := st.Load(cfg.SnapshotPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load snapshot: %w", err)
			}
			log.Infof("no snapshot at %s, starting empty", cfg.SnapshotPath)
		} else {
			log.Infof("loaded snapshot from %s", cfg.SnapshotPath)
		}
	}

	eng := engine.NewRemote(newLogger("ENGN"), cfg.EngineURL, cfg.RPCTimeout())
	chain := node.NewHTTPClient(newLogger("NODE"), cfg.NodeURL, cfg.RPCTimeout())
	authReg := auth.NewRegistry(newLogger("AUTH"), st.Auths(), eng, network)
	teamReg := team.NewRegistry(newLogger("TEAM"), st.Teams(), network)
	coord := coordinator.New(newLogger("COORD"), st, eng, chain)
	supervisor := broadcast.NewSupervisor(newLogger("BCAST"), st.FinalTxs(), chain, cfg.BroadcastTick())

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      httpd.NewServer(newLogger("HTTP"), authReg, teamReg, coord),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := supervisor.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cfg.SnapshotPath != "" {
		if serr := st.Save(cfg.SnapshotPath); serr != nil {
			log.Errorf("save snapshot: %v", serr)
		} else {
			log.Infof("snapshot saved to %s", cfg.SnapshotPath)
		}
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
