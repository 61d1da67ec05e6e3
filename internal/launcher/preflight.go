package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vroom-nvim/driver/internal/config"
)

// vimrcSentinels are -u values the editor interprets itself instead of reading a file.
var vimrcSentinels = map[string]struct{}{
	"NONE":     {},
	"NORC":     {},
	"DEFAULTS": {},
}

// Availability captures what a session needs from the host before launch.
type Availability struct {
	// Binary is the resolved editor path. Empty when it was not found.
	Binary      string
	VimRC       bool
	SetupScript bool
	Shell       bool
}

// Preflight resolves the editor binary and checks that configured files exist.
//
// It fails fast when a required dependency is missing:
//   - the editor binary must resolve on PATH (or exist, when given as a path)
//   - the vimrc must exist unless it is NONE, NORC or DEFAULTS
//   - the setup script must exist when one is configured
//
// A shell that cannot be found only produces a warning, since the editor may
// resolve it differently once its own environment is applied.
func Preflight(cfg config.Session) (Availability, []string, error) {
	return preflight(cfg, exec.LookPath, fileExists)
}

func preflight(
	cfg config.Session,
	lookPath func(file string) (string, error),
	exists func(path string) bool,
) (Availability, []string, error) {
	if lookPath == nil || exists == nil {
		return Availability{}, nil, errors.New("lookPath and exists functions are required")
	}

	var availability Availability
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return availability, nil, errors.New("editor binary is required")
	}
	resolved, err := lookPath(binary)
	if err != nil {
		return availability, nil, fmt.Errorf("required dependency %s not found: %w", binary, err)
	}
	availability.Binary = resolved

	vimrc := strings.TrimSpace(cfg.VimRC)
	if _, sentinel := vimrcSentinels[vimrc]; sentinel || vimrc == "" {
		availability.VimRC = true
	} else if exists(vimrc) {
		availability.VimRC = true
	} else {
		return availability, nil, fmt.Errorf("vimrc %s not found", vimrc)
	}

	if script := strings.TrimSpace(cfg.SetupScript); script != "" {
		if !exists(script) {
			return availability, nil, fmt.Errorf("setup script %s not found", script)
		}
		availability.SetupScript = true
	}

	var warnings []string
	shell := strings.TrimSpace(cfg.Shell)
	switch {
	case shell == "":
		warnings = append(warnings, "no shell configured; the editor keeps its default")
	case filepath.IsAbs(shell):
		availability.Shell = exists(shell)
	default:
		_, err := lookPath(shell)
		availability.Shell = err == nil
	}
	if shell != "" && !availability.Shell {
		warnings = append(warnings, fmt.Sprintf("shell %s not found; commands run through it will fail", shell))
	}

	return availability, warnings, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
