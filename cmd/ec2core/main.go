package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/fiam/ec2core/pkg/ec2core"
	"github.com/fiam/ec2core/pkg/ec2core/buildinfo"
	"github.com/fiam/ec2core/pkg/ec2core/config"
)

const (
	defaultAddr     = "0.0.0.0:8080"
	shutdownTimeout = 5 * time.Second
)

type serveFlags struct {
	addr       string
	configPath string
	logLevel   string
	backend    string
	region     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ec2core",
		Short:        "EC2 compatible instance lifecycle server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), formatVersionLine("ec2core", buildinfo.Current()))
			return err
		},
	}
}

func formatVersionLine(name string, info buildinfo.Info) string {
	return name + " " + info.String()
}

func newServeCommand() *cobra.Command {
	flags := serveFlags{
		addr:       envOr("ADDR", defaultAddr),
		configPath: os.Getenv("EC2CORE_CONFIG"),
		logLevel:   envOr("LOG_LEVEL", "info"),
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the EC2 Query API",
		Example: `  ec2core serve                          # sim backend on 0.0.0.0:8080
  ec2core serve --backend docker         # run instances as containers
  ec2core serve --config ec2core.yaml    # load images, groups and capacity`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.ErrOrStderr(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", flags.addr, "Address to listen on (env ADDR)")
	cmd.Flags().StringVar(&flags.configPath, "config", flags.configPath, "Path to a YAML configuration file (env EC2CORE_CONFIG)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", flags.logLevel, "One of debug, info, warn or error (env LOG_LEVEL)")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "Compute backend, sim or docker (overrides the configuration)")
	cmd.Flags().StringVar(&flags.region, "region", "", "Region to serve (overrides the configuration)")
	return cmd
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(ctx context.Context, logOut io.Writer, flags serveFlags) error {
	logLevel, err := parseLogLevel(flags.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(
		tint.NewHandler(logOut, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		}),
	)
	slog.SetDefault(logger)

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []ec2core.Option{
		ec2core.WithConfig(cfg),
		ec2core.WithLogger(logger),
	}
	if flags.backend != "" {
		opts = append(opts, ec2core.WithBackend(flags.backend))
	}
	if flags.region != "" {
		opts = append(opts, ec2core.WithRegion(flags.region))
	}

	logger.Info("starting server", slog.String("addr", flags.addr), slog.Any("build", buildinfo.Current()))
	srv, err := ec2core.NewServer(ctx, flags.addr, opts...)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(err, srv.Shutdown(shutdownCtx))
		}
	}

	stop()
	logger.Debug("shutting down gracefully, press Ctrl+C again to force")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("shutdown completed")
	return nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
