package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/editor"
)

func newExecCommand(cfg *config.Session, opts *sessionFlags, logger *log.Logger, start starter) *cobra.Command {
	var asTable bool
	cmd := &cobra.Command{
		Use:   "exec [SCRIPT]",
		Short: "Send each line of SCRIPT (or stdin) as keystrokes, then print the current buffer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := loadCommands(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			return withSession(cmd, cfg, opts, logger, start, func(ctx context.Context, session driver) error {
				for i, command := range commands {
					if err := session.Communicate(ctx, command, 0); err != nil {
						return fmt.Errorf("command %d %q: %w", i+1, command, err)
					}
				}

				lines, err := session.GetBufferLines(editor.CurrentBuffer)
				if err != nil {
					return fmt.Errorf("read current buffer: %w", err)
				}
				cursor, err := session.GetCurrentLine()
				if err != nil {
					return fmt.Errorf("read cursor line: %w", err)
				}

				out := cmd.OutOrStdout()
				if asTable {
					_, err = fmt.Fprintln(out, renderBuffer(lines, cursor))
					return err
				}
				for _, line := range lines {
					if _, err := fmt.Fprintln(out, line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asTable, "table", false, "print the buffer as a numbered table marking the cursor line")
	return cmd
}

func newEvalCommand(cfg *config.Session, opts *sessionFlags, logger *log.Logger, start starter) *cobra.Command {
	return &cobra.Command{
		Use:   "eval EXPR",
		Short: "Evaluate a Vimscript expression in a fresh editor and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expression := strings.Join(args, " ")
			return withSession(cmd, cfg, opts, logger, start, func(_ context.Context, session driver) error {
				value, err := session.Ask(expression)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
				return err
			})
		},
	}
}

// withSession starts an editor, runs fn, then quits and kills it whatever fn returned.
func withSession(
	cmd *cobra.Command,
	cfg *config.Session,
	opts *sessionFlags,
	logger *log.Logger,
	start starter,
	fn func(ctx context.Context, session driver) error,
) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resolved := opts.apply(cmd, *cfg)
	var transcript io.Writer
	if opts.transcript {
		transcript = cmd.ErrOrStderr()
	}

	session, err := start(ctx, resolved, logger, transcript)
	if err != nil {
		return fmt.Errorf("start editor: %w", err)
	}

	runErr := fn(ctx, session)

	var teardown []error
	if runErr == nil {
		if err := session.Quit(); err != nil {
			teardown = append(teardown, err)
		}
	}
	// Kill always runs so the endpoint file never outlives the command.
	if err := session.Kill(context.WithoutCancel(ctx)); err != nil {
		teardown = append(teardown, err)
	}
	if runErr != nil {
		return runErr
	}
	return errors.Join(teardown...)
}

// loadCommands reads one command per line. Blank lines and lines starting with # are skipped.
func loadCommands(stdin io.Reader, args []string) ([]string, error) {
	input := stdin
	if len(args) == 1 && args[0] != "-" {
		// #nosec G304 -- the script path is supplied by the user on purpose.
		file, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer file.Close()
		input = file
	}

	var commands []string
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return commands, nil
}

func renderBuffer(lines []string, cursor int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "#", "line"})
	for i, line := range lines {
		marker := ""
		if i+1 == cursor {
			marker = ">"
		}
		tw.AppendRow(table.Row{marker, strconv.Itoa(i + 1), line})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
