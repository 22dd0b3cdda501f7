package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "unrepair",
		Short:        "Verify ELF ABI-compatibility and un-bundle vendored shared libraries from Python wheels",
		SilenceUsage: true,
	}
	root.AddCommand(newCheckCommand())
	root.AddCommand(newWheelCommand())
	root.AddCommand(newInspectCommand())
	return root
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// colorEnabled resolves the --color flag ("auto", "always", "never")
// against whether stdout is a terminal.
func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return isatty.IsTerminal(os.Stdout.Fd())
	}
}
