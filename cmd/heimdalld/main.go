package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lerndmina/Heimdall-sub000/internal/config"
	"github.com/lerndmina/Heimdall-sub000/internal/host"
	"github.com/lerndmina/Heimdall-sub000/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags override the environment configuration.
type cliFlags struct {
	home      string
	pluginDir string
	addr      string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}
	root := &cobra.Command{
		Use:           "heimdalld",
		Short:         "Heimdall application host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version.String()
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.PersistentFlags().StringVar(&flags.home, "home", "", "data directory (overrides HEIMDALL_HOME)")
	root.PersistentFlags().StringVar(&flags.pluginDir, "plugins", "", "plugin directory (overrides HEIMDALL_PLUGIN_DIR)")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "HTTP listen address (overrides HEIMDALL_HTTP_ADDR)")

	root.AddCommand(newServeCmd(flags), newPluginsCmd(flags), newVersionCmd(flags))
	return root
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(flags *cliFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flags.home != "" {
		cfg.Home = config.ExpandPath(flags.home)
	}
	if flags.pluginDir != "" {
		cfg.PluginDir = flags.pluginDir
	}
	if flags.addr != "" {
		cfg.HTTPAddr = flags.addr
	}
	return cfg, nil
}

func newServeCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve the HTTP API and live gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	paths := cfg.Paths()
	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	h, err := host.New(host.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Heimdall %s starting (PID: %d)", version.FormatVersion(version.String()), os.Getpid())
	log.Printf("Plugin directory: %s", paths.Plugins)
	if err := h.Run(ctx); err != nil {
		log.Printf("Host error: %v", err)
		return err
	}
	log.Println("Heimdall stopped")
	return nil
}

func setupLogging(paths config.Paths) error {
	if err := os.MkdirAll(paths.Logs, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "heimdall.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Log file: %s", logPath)
	return nil
}
