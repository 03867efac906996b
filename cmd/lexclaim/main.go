// Command lexclaim files legal grievances, walks through the clarifying chat
// and downloads the generated document.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/lexclaim/internal/apiclient"
	"github.com/ent0n29/lexclaim/internal/app"
	"github.com/ent0n29/lexclaim/internal/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lexclaim"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Legal grievance assistant client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `lexclaim files a grievance with the drafting service, answers the
assistant's clarifying questions and downloads the finished document.

Without signing in, a guest session is used where the service allows it.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		createCmd(opts),
		chatCmd(opts),
		downloadCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
		whoamiCmd(opts),
		profileCmd(opts),
		documentsCmd(opts),
		historyCmd(opts),
		serveCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

// build loads configuration and wires the application for one command.
// Interactive commands log at warn unless --log-level says otherwise, so
// service chatter does not interleave with the conversation.
func (o *rootOptions) build(cmd *cobra.Command, interactive bool) (*app.BuildResult, error) {
	if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to load %s: %v\n", o.envFile, err)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	switch {
	case o.logLevel != "":
		cfg.LogLevel = o.logLevel
	case interactive:
		cfg.LogLevel = "warn"
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)

	stderr := cmd.ErrOrStderr()
	navigator := apiclient.NavigatorFunc(func(context.Context, error) {
		fmt.Fprintf(stderr, "Your session has expired. Sign in again with: %s login\n", appName)
	})

	res, err := app.Build(cmd.Context(), cfg, logger, navigator)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func newLogger(w io.Writer, levelName string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func closeApp(res *app.BuildResult) {
	if err := res.Cleanup(); err != nil {
		res.Logger.Warn("cleanup failed", "error", err)
	}
}
