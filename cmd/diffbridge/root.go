package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/diffbridge/internal/artifact"
	"github.com/codefionn/diffbridge/internal/bridge"
	"github.com/codefionn/diffbridge/internal/config"
	"github.com/codefionn/diffbridge/internal/diffexchange"
	"github.com/codefionn/diffbridge/internal/lockfile"
	"github.com/codefionn/diffbridge/internal/logger"
	"github.com/codefionn/diffbridge/internal/pprof"
	"github.com/codefionn/diffbridge/internal/registry"
	"github.com/codefionn/diffbridge/internal/socketserver"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "diffbridge",
		Short: "Bridge an editor and a coding assistant over WebSocket",
		Long: "diffbridge accepts one editor and one assistant connection, answers the MCP\n" +
			"handshake, relays commands and brokers diff reviews through staged files.\n" +
			"It exits when the editor disconnects.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, v, configPath)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	flags.Int("port", 0, "Port to listen on (0 picks a free port)")
	flags.String("host", "127.0.0.1", "Address to bind")
	flags.String("log-level", "info", "Log level: debug, info, warn, error, none")
	flags.String("artifact-dir", "", "Directory for staged diff files")
	flags.Bool("pprof", false, "Serve profiling endpoints under /debug/pprof")
	flags.String("cpu-profile", "", "Write a CPU profile to this file")
	flags.String("heap-profile", "", "Write a heap profile to this file on exit")

	for key, name := range map[string]string{
		"port":         "port",
		"host":         "host",
		"log_level":    "log-level",
		"artifact_dir": "artifact-dir",
		"pprof":        "pprof",
		"cpu_profile":  "cpu-profile",
		"heap_profile": "heap-profile",
	} {
		// Flags only override when set explicitly
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(newVersionCmd(), newStatusCmd())
	return rootCmd
}

func serve(cmd *cobra.Command, v *viper.Viper, configPath string) (err error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := initLogger(cfg, cmd.ErrOrStderr()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("diffbridge %s starting", version)
	logger.Debug("Configuration: addr=%s artifact_dir=%s probe=%s stale_after=%s unknown_method=%s",
		cfg.Addr(), cfg.ArtifactDir, cfg.ProbeInterval, cfg.StaleAfter, cfg.UnknownMethod)

	if config.Watch(v, func(next *config.Config) {
		logger.Global().SetLevel(logger.ParseLevel(next.LogLevel))
		logger.Info("Config reloaded, log level %s", next.LogLevel)
	}) {
		logger.Debug("Watching %s for changes", v.ConfigFileUsed())
	}

	profiler := pprof.NewProfiler(pprof.Config{CPUProfile: cfg.CPUProfile, HeapProfile: cfg.HeapProfile})
	if err := profiler.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := profiler.Stop(); stopErr != nil {
			logger.Warn("Failed to write profiles: %v", stopErr)
		}
	}()

	store, err := artifact.New(afero.NewOsFs(), cfg.ArtifactDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := bridge.New(bridge.Options{
		Registry:      registry.New(cfg.ProbeInterval),
		Diffs:         diffexchange.New(store),
		UnknownMethod: cfg.UnknownMethod,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
		ServerInfo:    bridge.ServerInfo{Name: "diffbridge", Version: version},
		OnShutdown:    cancel,
	})

	server := socketserver.NewServer(cfg.Addr(), session, func() any { return session.Status() })
	if cfg.Pprof {
		pprof.Register(server.Router())
	}
	if err := server.Listen(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "diffbridge listening on port %d\n", server.Port())

	if cfg.RunDir != "" {
		lock, err := lockfile.Acquire(afero.NewOsFs(), cfg.RunDir, lockfile.Info{
			Host:      cfg.Host,
			Port:      server.Port(),
			ProcessID: cfg.ProcessID,
		})
		if err != nil {
			// Discovery only; the server works without it
			logger.Warn("Failed to write lock file: %v", err)
		} else {
			defer lock.Release()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("diffbridge stopped")
	return nil
}

// initLogger routes logs to the configured file and, when enabled, to
// console.
func initLogger(cfg *config.Config, console io.Writer) error {
	isTTY := false
	if f, ok := console.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}

	opts := logger.Options{
		Level: logger.ParseLevel(cfg.LogLevel),
		Path:  cfg.LogPath,
		Color: isTTY,
	}
	switch cfg.LogConsole {
	case config.ConsoleOn:
		opts.Console = console
	case config.ConsoleAuto:
		if isTTY {
			opts.Console = console
		}
	}
	return logger.Init(opts)
}
