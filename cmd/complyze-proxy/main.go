package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/complyze/complyze-proxy/internal/config"
	"github.com/complyze/complyze-proxy/internal/logs"
	"github.com/complyze/complyze-proxy/internal/proxy"
)

var (
	listen          string
	dataDir         string
	workspaceID     string
	controlPlaneURL string
	domainsFile     string
	logLevel        string
	logToFile       bool
	logDir          string
	failOpen        bool
	strictPinMode   bool
	notifyOnBlock   bool

	version = "v0.1.0" // overridden with -ldflags at release build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "complyze-proxy",
		Short:   "Complyze Proxy - transparent DLP interception for AI provider traffic",
		Version: version,
		RunE:    runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address (default: 127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.complyze-proxy)")
	rootCmd.PersistentFlags().StringVar(&workspaceID, "workspace", "", "Workspace id reported with every event")
	rootCmd.PersistentFlags().StringVar(&controlPlaneURL, "control-plane", "", "Control plane base URL")
	rootCmd.PersistentFlags().StringVar(&domainsFile, "domains-file", "", "Path to a domains.yaml override file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	rootCmd.Flags().BoolVar(&failOpen, "fail-open", true, "Forward traffic unmodified when inspection fails")
	rootCmd.Flags().BoolVar(&strictPinMode, "strict-pin-mode", false, "Keep inspecting hosts whose clients pin certificates")
	rootCmd.Flags().BoolVar(&notifyOnBlock, "notify-on-block", false, "Show a desktop notification when a request is blocked")

	rootCmd.AddCommand(certCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Boolean flags only override the environment when given explicitly.
	if cmd.Flags().Changed("fail-open") {
		cfg.FailOpen = failOpen
	}
	if cmd.Flags().Changed("strict-pin-mode") {
		cfg.StrictPinMode = strictPinMode
	}
	if cmd.Flags().Changed("notify-on-block") {
		cfg.NotifyOnBlock = notifyOnBlock
	}

	if cfg.Logging == nil {
		cfg.Logging = config.DefaultConfig().Logging
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}
	if cfg.TraceMode {
		// TRACE_MODE drags the whole process down to debug logging.
		cfg.Logging.Level = logs.LogLevelDebug
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	sugar := logger.Sugar()

	sugar.Infow("Starting complyze-proxy",
		"version", version,
		"listen", cfg.Listen,
		"workspace", cfg.WorkspaceID,
		"control_plane", cfg.ControlPlaneURL,
		"fail_open", cfg.FailOpen,
		"strict_pin_mode", cfg.StrictPinMode)

	srv, err := proxy.New(cfg, version, sugar)
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		sugar.Infow("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	return srv.Run(ctx)
}

// loadConfig resolves the environment configuration and layers the command
// line flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if listen != "" {
		cfg.Listen = listen
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
		}
	}
	if workspaceID != "" {
		cfg.WorkspaceID = workspaceID
	}
	if controlPlaneURL != "" {
		cfg.ControlPlaneURL = controlPlaneURL
	}
	if domainsFile != "" {
		cfg.DomainsFile = domainsFile
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
