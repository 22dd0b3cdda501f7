package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablogsal/unrepair/internal/report"
	"github.com/pablogsal/unrepair/internal/wheel"
	"github.com/pablogsal/unrepair/internal/workflow"
)

func newWheelCommand() *cobra.Command {
	var (
		wheelPath       string
		outputWheelPath string
		systemLibs      []string
		systemLibDirs   []string
		workdir         string
		noStrict        bool
		verbose         bool
		format          string
		colorMode       string
		replaceFrom     string
	)

	cmd := &cobra.Command{
		Use:   "wheel",
		Short: "Un-bundle a wheel's vendored shared libraries in favor of system copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wheelPath == "" {
				return fmt.Errorf("--wheel is required")
			}
			if outputWheelPath == "" {
				return fmt.Errorf("--output-wheel is required")
			}

			source := wheel.ReplaceWithSONAME
			if replaceFrom == "system-path" {
				source = wheel.ReplaceWithSystemPath
			}

			opts := workflow.Options{
				WheelPath:       wheelPath,
				OutputWheelPath: outputWheelPath,
				Workdir:         workdir,
				Candidates: wheel.CandidateOptions{
					Files:       systemLibs,
					Directories: systemLibDirs,
				},
				ReplacementFrom: source,
				NoStrict:        noStrict,
				Logger:          setupLogger(verbose),
			}

			result, err := workflow.Run(context.Background(), opts)
			if result != nil {
				renderWheelReport(cmd, result, format, colorEnabled(colorMode))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&wheelPath, "wheel", "", "Path to the input wheel (required)")
	cmd.Flags().StringVar(&outputWheelPath, "output-wheel", "", "Path to write the patched wheel (required)")
	cmd.Flags().StringArrayVar(&systemLibs, "system-lib", nil, "Explicit system library file to consider as a replacement candidate (repeatable)")
	cmd.Flags().StringArrayVar(&systemLibDirs, "system-lib-dir", nil, "Directory to scan recursively for replacement candidates (repeatable)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Directory to unpack the wheel into (default: system temp dir)")
	cmd.Flags().BoolVar(&noStrict, "no-strict", false, "Tolerate incompatible pairs instead of aborting the whole run")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable info-level logging")
	cmd.Flags().StringVar(&format, "format", "text", "Report format: text or json")
	cmd.Flags().StringVar(&colorMode, "color", "auto", "Colorize text output: auto, always, or never")
	cmd.Flags().StringVar(&replaceFrom, "patch-needed-from", "soname", "Replacement string source: soname or system-path")
	return cmd
}

func renderWheelReport(cmd *cobra.Command, result *workflow.Report, format string, colored bool) {
	out := cmd.OutOrStdout()
	if format == "json" {
		report.WriteJSON(out, result)
		return
	}
	report.WriteText(out, result, colored)
}
