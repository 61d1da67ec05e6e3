package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/editor"
	"github.com/vroom-nvim/driver/internal/launcher"
	"github.com/vroom-nvim/driver/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var hostPreflight preflightFunc = launcher.Preflight

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, editor.ErrQuit) {
			fmt.Fprintln(os.Stderr, color.RedString("editor crashed: %v", err))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx, logging.WithRunID(uuid.NewString()))
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(cfg, logger.Logger, startSession)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// driver is what the subcommands need from a running session.
type driver interface {
	Communicate(ctx context.Context, command string, extraDelay time.Duration) error
	Ask(expression string) (string, error)
	GetBufferLines(number int) ([]string, error)
	GetCurrentLine() (int, error)
	Quit() error
	Kill(ctx context.Context) error
}

// starter launches a session for cfg; commands lines are mirrored to transcript.
type starter func(ctx context.Context, cfg config.Session, logger *log.Logger, transcript io.Writer) (driver, error)

func startSession(ctx context.Context, cfg config.Session, logger *log.Logger, transcript io.Writer) (driver, error) {
	resolved := cfg.WithServerName()
	session, err := editor.New(&resolved, editor.Options{
		Logger:   logger,
		Commands: logging.NewTranscript(transcript, logger),
	})
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func newRootCommand(cfg *config.Session, logger *log.Logger, start starter) *cobra.Command {
	opts := &sessionFlags{}
	root := &cobra.Command{
		Use:           "vroom-nvim",
		Short:         "Drive Neovim over RPC for vroom-style editor tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	opts.register(root)
	root.AddCommand(
		newExecCommand(cfg, opts, logger, start),
		newEvalCommand(cfg, opts, logger, start),
		newDoctorCommand(cfg, opts, hostPreflight),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}
