package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/launcher"
)

// preflightFunc checks the host for what a session needs.
type preflightFunc func(cfg config.Session) (launcher.Availability, []string, error)

func newDoctorCommand(cfg *config.Session, opts *sessionFlags, check preflightFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the editor binary and configured files are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolved := opts.apply(cmd, *cfg)
			availability, warnings, err := check(resolved)

			out := cmd.OutOrStdout()
			printCheck(out, "binary", resolved.Binary, availability.Binary)
			if err != nil {
				return fmt.Errorf("preflight: %w", err)
			}
			printCheck(out, "vimrc", resolved.VimRC, presence(availability.VimRC))
			if resolved.SetupScript != "" {
				printCheck(out, "setup", resolved.SetupScript, presence(availability.SetupScript))
			}
			printCheck(out, "shell", resolved.Shell, presence(availability.Shell))
			for _, warning := range warnings {
				fmt.Fprintln(out, color.YellowString("warning: %s", warning))
			}
			return nil
		},
	}
}

func presence(ok bool) string {
	if ok {
		return "ok"
	}
	return ""
}

func printCheck(out io.Writer, name, configured, found string) {
	if found == "" {
		fmt.Fprintf(out, "%-7s %s %s\n", name, color.RedString("missing"), configured)
		return
	}
	fmt.Fprintf(out, "%-7s %s %s\n", name, color.GreenString("ok"), configured)
}
