package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"expegaze/engine"
	"expegaze/export"
	"expegaze/store"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newApp(runWithSDL).Run(ctx, os.Args)
	cancel()

	code := exitCode(err)
	switch code {
	case 0:
	case 2:
		slog.Warn("cancelled", slog.Any("reason", err))
	default:
		slog.Error("command failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func newApp(runner sessionRunner) *cli.Command {
	return &cli.Command{
		Name:  "expegaze",
		Usage: "Gaze contingent decision experiment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("EXPEGAZE_LOG_LEVEL"),
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("EXPEGAZE_LOG_FORMAT"),
				Usage:   "Log format (text, json)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logger, err := newLogger(cmd.Root().ErrWriter, cmd.String("log-level"), cmd.String("log-format"))
			if err != nil {
				return ctx, err
			}
			slog.SetDefault(logger)
			return ctx, nil
		},
		Commands: []*cli.Command{
			runCommand(runner),
			exportCommand(),
			convertCommand(),
		},
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// exitCode maps an error to the process exit status: 2 when the operator, a signal
// or the export selection cancelled, 3 when the recording store is missing.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, engine.ErrUserCancelled), errors.Is(err, export.ErrSelectionCancelled),
		errors.Is(err, context.Canceled):
		return 2
	case errors.Is(err, store.ErrStoreNotFound):
		return 3
	}
	return 1
}
