package cli

import (
	"context"
	"fmt"

	"github.com/harun/memstream/internal/config"
	"github.com/harun/memstream/internal/daemon"
	"github.com/harun/memstream/internal/logger"
	"github.com/spf13/cobra"
)

var (
	startHost string
	startPort int
	watchFile bool
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the memstream daemon service",
	Long: `Start the memstream daemon in the foreground. It listens until it
receives SIGINT or SIGTERM, then closes every client connection and exits.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "listen host (overrides transport.host)")
	startCmd.Flags().IntVar(&startPort, "port", -1, "listen port (overrides transport.port)")
	startCmd.Flags().BoolVar(&watchFile, "watch", true, "reload the log level when the config file changes")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if startHost != "" {
		cfg.Transport.Host = startHost
	}
	if startPort >= 0 {
		cfg.Transport.Port = startPort
	}

	if daemon.IsRunning(cfg.PIDFile()) {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.PIDFile())
	}

	log, err := logger.New(loggerConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	if watchFile {
		if err := d.WatchConfig(config.NewLoader(cfgFile)); err != nil {
			zl := log.Zerolog()
			zl.Warn().Err(err).Msg("Config watcher disabled")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "memstream listening on %s (session %s)\n", d.Status().Addr, d.Status().SessionID)
	return d.Wait(ctx)
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:     cfg.Level,
		File:      cfg.File,
		Console:   cfg.Console,
		Pretty:    cfg.Pretty,
		Redaction: cfg.Redaction,
		MaxSizeMB: cfg.MaxSize,
		MaxAge:    cfg.MaxAge,
		Compress:  cfg.Compress,
	}
}
