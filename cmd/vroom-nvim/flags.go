package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/vroom-nvim/driver/internal/config"
)

// sessionFlags override loaded configuration for one invocation.
type sessionFlags struct {
	binary       string
	vimrc        string
	shell        string
	setupScript  string
	serverName   string
	delay        time.Duration
	startTimeout time.Duration
	pty          string
	transcript   bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.binary, "nvim", "", "editor binary")
	flags.StringVarP(&f.vimrc, "vimrc", "u", "", "file passed to the editor's -u flag")
	flags.StringVar(&f.shell, "shell", "", "shell the editor runs commands through")
	flags.StringVar(&f.setupScript, "setup", "", "script sourced after startup")
	flags.StringVar(&f.serverName, "servername", "", "RPC endpoint path (default: unique temp path)")
	flags.DurationVarP(&f.delay, "delay", "d", 0, "settle delay after each command")
	flags.DurationVar(&f.startTimeout, "start-timeout", 0, "how long to wait for the editor endpoint")
	flags.StringVar(&f.pty, "pty", "", "attach a pseudo-terminal: auto, always, never")
	flags.BoolVar(&f.transcript, "transcript", false, "echo each command to stderr before sending it")
}

// apply returns cfg with every explicitly set flag applied.
func (f *sessionFlags) apply(cmd *cobra.Command, cfg config.Session) config.Session {
	flags := cmd.Flags()
	if flags.Changed("nvim") {
		cfg.Binary = f.binary
	}
	if flags.Changed("vimrc") {
		cfg.VimRC = f.vimrc
	}
	if flags.Changed("shell") {
		cfg.Shell = f.shell
	}
	if flags.Changed("setup") {
		cfg.SetupScript = f.setupScript
	}
	if flags.Changed("servername") {
		cfg.ServerName = f.serverName
	}
	if flags.Changed("delay") {
		cfg.Delay = f.delay
	}
	if flags.Changed("start-timeout") {
		cfg.StartTimeout = f.startTimeout
	}
	if flags.Changed("pty") {
		cfg.PTY = config.PTYMode(f.pty)
	}
	return cfg
}
